package attendanceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldattend/internal/attendance"
)

// ErrTransport marks failures where no response was received.
var ErrTransport = errors.New("attendance api unreachable")

// StatusError is a non-2xx answer from the API. Message is the server's
// "detail" or "error" string when it sent one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attendance api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("attendance api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the attendance API on behalf of one signed-in employee.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client. The token is sent as a Bearer credential.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Today returns the caller's record for the current business date, or nil.
func (c *Client) Today(ctx context.Context) (*attendance.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/attendance/today", nil)
	if err != nil {
		return nil, err
	}
	var rec *attendance.Record
	if err := c.do(req, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckIn posts a multipart check-in body and returns the created record.
func (c *Client) CheckIn(ctx context.Context, contentType string, body io.Reader) (*attendance.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/attendance/check-in", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	var rec attendance.Record
	if err := c.do(req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Message: serverMessage(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// serverMessage pulls a human message out of an error body. Structured
// validation details (lists, objects) are not shown.
func serverMessage(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, field := range []json.RawMessage{body.Detail, body.Error} {
		var s string
		if len(field) > 0 && json.Unmarshal(field, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}
