package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// DefaultProbeTimeout bounds an availability check.
const DefaultProbeTimeout = 2 * time.Second

// ListModels returns the model names a backend advertises.
func ListModels(ctx context.Context, httpClient *http.Client, backend Backend, baseURL, apiKey string) ([]string, error) {
	proto, err := ProtocolFor(backend)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch backend {
	case BackendVLLM:
		config := openai.DefaultConfig(apiKey)
		config.BaseURL = strings.TrimSuffix(proto.ProbeEndpoint(baseURL), "/models")
		config.HTTPClient = httpClient
		client := openai.NewClientWithConfig(config)

		modelList, err := client.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		names := make([]string, 0, len(modelList.Models))
		for _, m := range modelList.Models {
			names = append(names, m.ID)
		}
		return names, nil

	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, proto.ProbeEndpoint(baseURL), nil)
		if err != nil {
			return nil, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}

		var payload struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode model list: %w", err)
		}
		names := make([]string, 0, len(payload.Models))
		for _, m := range payload.Models {
			names = append(names, m.Name)
		}
		return names, nil
	}
}

// FirstAvailableModel picks the first advertised model.
func FirstAvailableModel(ctx context.Context, httpClient *http.Client, backend Backend, baseURL, apiKey string) (string, error) {
	names, err := ListModels(ctx, httpClient, backend, baseURL, apiKey)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no models available on %s", baseURL)
	}
	return names[0], nil
}

// Probe reports whether a backend answers its model-listing endpoint within
// timeout. It is not part of the measurement path.
func Probe(ctx context.Context, httpClient *http.Client, backend Backend, baseURL, apiKey string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := ListModels(ctx, httpClient, backend, baseURL, apiKey)
	return err == nil
}
