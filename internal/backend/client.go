package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lmstream/chatd/internal/config"
)

// sse framing used by OpenAI-compatible completion endpoints.
const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// Client streams completions from an OpenAI-compatible endpoint such as
// LM Studio's local server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a backend client. cfg.Timeout of zero means generation
// is allowed to run indefinitely.
func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate opens a streaming completion call for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (Stream, error) {
	body, err := c.requestBody(prompt)
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call completion backend: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, msg)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &sseStream{body: resp.Body, scanner: sc}, nil
}

// requestBody builds the completion payload.
func (c *Client) requestBody(prompt string) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "model", c.model)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "prompt", prompt); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "stream", true)
}

// readErrorBody extracts a short error message from a non-200 response.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	if msg := gjson.GetBytes(data, "error.message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(data, "error").String(); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(data))
}

// sseStream reads "data: {json}" chunks off the response body and yields the
// text delta of each one.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next non-empty fragment, io.EOF on the [DONE] marker or a
// clean connection close, or the backend's error.
func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == doneMarker {
			s.done = true
			return "", io.EOF
		}
		if msg := gjson.Get(payload, "error.message").String(); msg != "" {
			s.done = true
			return "", fmt.Errorf("backend stream error: %s", msg)
		}
		fragment := gjson.Get(payload, "choices.0.text").String()
		if fragment == "" {
			// Role/metadata chunks and empty deltas carry no text.
			continue
		}
		return fragment, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read backend stream: %w", err)
	}
	return "", io.EOF
}

// Close releases the response body.
func (s *sseStream) Close() error {
	return s.body.Close()
}

var _ Generator = (*Client)(nil)
