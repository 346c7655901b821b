package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 120 * time.Second

// Result is the structured outcome of a successful backend call.
type Result struct {
	// Content is the completion text (chat completion and health probe).
	Content string

	// Embedding is the vector returned by an embedding request.
	Embedding []float64

	// Model echoes the model that served the request, when reported.
	Model string

	// Latency is the observed round-trip time.
	Latency time.Duration
}

// Client performs HTTP round trips to inference backends.
//
// The zero value is not usable; construct with NewClient. A single Client is
// safe for concurrent use and is shared by the dispatcher and the health
// monitor.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a backend client. timeout bounds a single round trip and
// falls back to a sane default when zero; per-call contexts may shorten it
// further.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Do executes one request against the given backend and returns a structured
// result. Failures are returned as *CallError so the retry coordinator can
// classify them via IsRetryable.
func (c *Client) Do(ctx context.Context, d Descriptor, req Request) (*Result, error) {
	path, payload, err := marshalRequest(req)
	if err != nil {
		return nil, &CallError{Backend: d.RoutingKey, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Backend: d.RoutingKey, Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &CallError{Backend: d.RoutingKey, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Backend: d.RoutingKey, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &CallError{
			Backend:    d.RoutingKey,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", bytesPreview(body)),
		}
	}

	result, err := unmarshalResult(req, body)
	if err != nil {
		return nil, &CallError{Backend: d.RoutingKey, StatusCode: resp.StatusCode, Err: err}
	}

	result.Latency = time.Since(start)

	c.logger.Debug("backend call completed",
		zap.String("backend", d.RoutingKey),
		zap.String("kind", Kind(req)),
		zap.Duration("latency", result.Latency))

	return result, nil
}

func marshalRequest(req Request) (path string, payload []byte, err error) {
	switch r := req.(type) {
	case ChatCompletion:
		payload, err = json.Marshal(struct {
			ChatCompletion
			Stream bool `json:"stream"`
		}{ChatCompletion: r})

		return "/v1/chat/completions", payload, err
	case Embedding:
		payload, err = json.Marshal(r)

		return "/v1/embeddings", payload, err
	case HealthProbe:
		payload, err = json.Marshal(struct {
			HealthProbe
			Stream bool `json:"stream"`
		}{HealthProbe: r})

		return "/api/generate", payload, err
	default:
		return "", nil, fmt.Errorf("unsupported request type %T", req)
	}
}

func unmarshalResult(req Request, body []byte) (*Result, error) {
	switch req.(type) {
	case ChatCompletion:
		var parsed struct {
			Model   string `json:"model"`
			Choices []struct {
				Message Message `json:"message"`
			} `json:"choices"`
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("malformed completion response: %w", err)
		}

		if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
			return nil, ErrEmptyResponse
		}

		return &Result{Content: parsed.Choices[0].Message.Content, Model: parsed.Model}, nil
	case Embedding:
		var parsed struct {
			Model string `json:"model"`
			Data  []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("malformed embedding response: %w", err)
		}

		if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
			return nil, ErrEmptyResponse
		}

		return &Result{Embedding: parsed.Data[0].Embedding, Model: parsed.Model}, nil
	case HealthProbe:
		var parsed struct {
			Model    string `json:"model"`
			Response string `json:"response"`
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("malformed generate response: %w", err)
		}

		if parsed.Response == "" {
			return nil, ErrEmptyResponse
		}

		return &Result{Content: parsed.Response, Model: parsed.Model}, nil
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

const previewLimit = 200

func bytesPreview(body []byte) string {
	if len(body) > previewLimit {
		body = body[:previewLimit]
	}

	return string(body)
}
