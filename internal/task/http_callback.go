package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TypeHTTPCallback is the task type of the built-in HTTP callback task.
const TypeHTTPCallback = "http_callback"

// maxCallbackBody bounds how much of a callback response is kept in the report.
const maxCallbackBody = 4096

// HTTPCallbackParams are the params of an http_callback descriptor.
type HTTPCallbackParams struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method" validate:"omitempty,oneof=POST PUT GET DELETE PATCH"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
}

// HTTPCallbackReport is the report of a successful callback.
type HTTPCallbackReport struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// HTTPCallback sends the descriptor's data to a URL. Any non-2xx response
// fails the task.
type HTTPCallback struct {
	client *http.Client
}

// NewHTTPCallback creates the callback task. A nil client gets a 30 second
// timeout.
func NewHTTPCallback(client *http.Client) *HTTPCallback {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCallback{client: client}
}

// Type implements Task.
func (c *HTTPCallback) Type() string { return TypeHTTPCallback }

// Execute implements Task.
func (c *HTTPCallback) Execute(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	var params HTTPCallbackParams
	if err := d.DecodeParams(&params); err != nil {
		return nil, err
	}
	params.Method = strings.ToUpper(params.Method)
	if params.Method == "" {
		params.Method = http.MethodPost
	}
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	var body io.Reader
	if len(params.Data) > 0 && params.Method != http.MethodGet {
		body = bytes.NewReader(params.Data)
	}

	req, err := http.NewRequestWithContext(ctx, params.Method, params.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Task-ID", d.TaskID.String())
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxCallbackBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return json.Marshal(HTTPCallbackReport{
		Status: resp.StatusCode,
		Body:   string(respBody),
	})
}
