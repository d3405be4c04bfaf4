package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"llmloadtest/internal/logger"
)

// UnitReporter receives unit increments while a stream is decoded.
// *progressbar.ProgressBar satisfies it.
type UnitReporter interface {
	Add(n int) error
}

// DecodeResult is what a decoder observed before the stream ended.
type DecodeResult struct {
	Units      int
	Terminated bool // an explicit end-of-stream signal was seen
}

// Decoder turns a streaming response body into a unit count.
//
// Malformed lines are skipped. The returned error is only ever a read error
// from r; classifying it is the caller's job.
type Decoder interface {
	Decode(r io.Reader, report UnitReporter) (DecodeResult, error)
}

const (
	eventPrefix  = "data: "
	doneSentinel = "[DONE]"
)

// chatStreamChunk keeps the delta as raw fields: a unit is an event whose
// delta has a content key, even an empty one such as vLLM's opening role
// chunk.
type chatStreamChunk struct {
	Choices []struct {
		Delta map[string]json.RawMessage `json:"delta"`
	} `json:"choices"`
}

// EventStreamDecoder decodes OpenAI-style server-sent events. One unit is
// counted per event whose delta carries a content field, which is close to
// one token per event on vLLM but is not a token count.
type EventStreamDecoder struct{}

func (EventStreamDecoder) Decode(r io.Reader, report UnitReporter) (DecodeResult, error) {
	var res DecodeResult
	err := scanLines(r, func(line []byte) bool {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte(eventPrefix)) {
			return true
		}
		payload := bytes.TrimSpace(line[len(eventPrefix):])
		if string(payload) == doneSentinel {
			res.Terminated = true
			return false
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			logger.AppLogger.Debug("skipping malformed event: %v", err)
			return true
		}
		if len(chunk.Choices) == 0 {
			return true
		}
		if _, ok := chunk.Choices[0].Delta["content"]; ok {
			res.Units++
			addUnits(report, 1)
		}
		return true
	})
	return res, err
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NDJSONDecoder decodes Ollama-style newline-delimited JSON. Units are
// whitespace-separated words of each response fragment, so counts are not
// directly comparable with EventStreamDecoder.
type NDJSONDecoder struct{}

func (NDJSONDecoder) Decode(r io.Reader, report UnitReporter) (DecodeResult, error) {
	var res DecodeResult
	err := scanLines(r, func(line []byte) bool {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return true
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			logger.AppLogger.Debug("skipping malformed chunk: %v", err)
			return true
		}
		if words := len(strings.Fields(chunk.Response)); words > 0 {
			res.Units += words
			addUnits(report, words)
		}
		if chunk.Done {
			res.Terminated = true
			return false
		}
		return true
	})
	return res, err
}

// scanLines feeds each newline-terminated line to fn until fn returns false
// or the reader is exhausted. Lines have no length limit.
func scanLines(r io.Reader, fn func(line []byte) bool) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && !fn(line) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func addUnits(report UnitReporter, n int) {
	if report == nil || n <= 0 {
		return
	}
	report.Add(n)
}
