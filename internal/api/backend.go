package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Backend identifies an inference service flavour. It selects the endpoint,
// the request payload shape and the stream wire format.
type Backend string

const (
	// BackendVLLM speaks the OpenAI chat-completions protocol with event-stream framing.
	BackendVLLM Backend = "vllm"
	// BackendOllama speaks the Ollama generate protocol with newline-delimited JSON.
	BackendOllama Backend = "ollama"
)

// Backends lists the known identities in their default sweep order.
var Backends = []Backend{BackendVLLM, BackendOllama}

var ErrUnknownBackend = errors.New("unknown backend")

// ParseBackend accepts a case-insensitive backend name.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// RequestSpec is everything one session needs. It is shared read-only by every
// session of a batch.
type RequestSpec struct {
	Backend     Backend       `json:"backend" yaml:"backend"`
	BaseURL     string        `json:"base_url" yaml:"base-url"`
	APIKey      string        `json:"-" yaml:"-"`
	Model       string        `json:"model" yaml:"model"`
	Prompt      string        `json:"prompt" yaml:"prompt"`
	MaxTokens   int           `json:"max_tokens" yaml:"max-tokens"`
	Temperature float32       `json:"temperature" yaml:"temperature"`
	TopP        float32       `json:"top_p,omitempty" yaml:"top-p,omitempty"`
	// Timeout renders as seconds, like every other duration in a result.
	Timeout time.Duration `json:"-" yaml:"-"`
}

type plainRequestSpec RequestSpec

type requestSpecView struct {
	plainRequestSpec `yaml:",inline"`
	Timeout          float64 `json:"timeout_seconds" yaml:"timeout-seconds"`
}

func (s RequestSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestSpecView{plainRequestSpec(s), s.Timeout.Seconds()})
}

func (s RequestSpec) MarshalYAML() (interface{}, error) {
	return requestSpecView{plainRequestSpec(s), s.Timeout.Seconds()}, nil
}

// Protocol is the per-backend capability used by the session runner.
type Protocol interface {
	Backend() Backend
	Endpoint(baseURL string) string
	ProbeEndpoint(baseURL string) string
	NewRequestBody(spec RequestSpec) ([]byte, error)
	Decoder() Decoder
}

// ProtocolFor returns the protocol implementation for a backend identity.
func ProtocolFor(b Backend) (Protocol, error) {
	switch b {
	case BackendVLLM:
		return chatProtocol{}, nil
	case BackendOllama:
		return generateProtocol{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, string(b))
	}
}

// joinURL appends path to base, tolerating a trailing slash and a base that
// already carries the API version prefix.
func joinURL(base, prefix, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if prefix != "" && strings.HasSuffix(base, prefix) {
		base = strings.TrimSuffix(base, prefix)
	}
	return base + prefix + path
}

type chatProtocol struct{}

func (chatProtocol) Backend() Backend { return BackendVLLM }

func (chatProtocol) Endpoint(baseURL string) string {
	return joinURL(baseURL, "/v1", "/chat/completions")
}

func (chatProtocol) ProbeEndpoint(baseURL string) string {
	return joinURL(baseURL, "/v1", "/models")
}

func (chatProtocol) NewRequestBody(spec RequestSpec) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: spec.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: spec.Prompt,
			},
		},
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
		TopP:        spec.TopP,
		Stream:      true,
	}
	return json.Marshal(req)
}

func (chatProtocol) Decoder() Decoder { return EventStreamDecoder{} }

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateProtocol struct{}

func (generateProtocol) Backend() Backend { return BackendOllama }

func (generateProtocol) Endpoint(baseURL string) string {
	return joinURL(baseURL, "", "/api/generate")
}

func (generateProtocol) ProbeEndpoint(baseURL string) string {
	return joinURL(baseURL, "", "/api/tags")
}

func (generateProtocol) NewRequestBody(spec RequestSpec) ([]byte, error) {
	return json.Marshal(generateRequest{
		Model:  spec.Model,
		Prompt: spec.Prompt,
		Stream: true,
		Options: generateOptions{
			NumPredict:  spec.MaxTokens,
			Temperature: spec.Temperature,
			TopP:        spec.TopP,
		},
	})
}

func (generateProtocol) Decoder() Decoder { return NDJSONDecoder{} }
