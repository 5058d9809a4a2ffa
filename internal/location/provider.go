package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StaticProvider reports a fixed position, for kiosks at a known site.
type StaticProvider struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Locate returns the configured position stamped with the current time.
func (p StaticProvider) Locate(ctx context.Context, _ Request) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return Fix{Latitude: p.Latitude, Longitude: p.Longitude, Accuracy: p.Accuracy, Timestamp: time.Now()}, nil
}

// HTTPProvider asks a local positioning agent for the current fix.
// The agent answers GET {URL}?high_accuracy=1&max_age_ms=0 with
// {"latitude":..,"longitude":..,"accuracy":..,"timestamp":"RFC3339"}, or
// {"code":1,"message":".."} with a non-2xx status.
type HTTPProvider struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPProvider creates a provider. Request deadlines come from the caller.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{URL: url, HTTP: &http.Client{}}
}

// Locate fetches a fix from the agent.
func (p *HTTPProvider) Locate(ctx context.Context, req Request) (Fix, error) {
	q := "?max_age_ms=" + fmt.Sprint(req.MaxAge.Milliseconds())
	if req.HighAccuracy {
		q += "&high_accuracy=1"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL+q, nil)
	if err != nil {
		return Fix{}, err
	}
	resp, err := p.HTTP.Do(httpReq)
	if err != nil {
		return Fix{}, &PositionError{Code: PositionUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var perr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&perr)
		code := ErrorCode(perr.Code)
		if code < PermissionDenied || code > Timeout {
			code = PositionUnavailable
		}
		if perr.Message == "" {
			perr.Message = resp.Status
		}
		return Fix{}, &PositionError{Code: code, Message: perr.Message}
	}

	var out struct {
		Latitude  float64   `json:"latitude"`
		Longitude float64   `json:"longitude"`
		Accuracy  float64   `json:"accuracy"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Fix{}, &PositionError{Code: PositionUnavailable, Message: "decode fix: " + err.Error()}
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return Fix{Latitude: out.Latitude, Longitude: out.Longitude, Accuracy: out.Accuracy, Timestamp: out.Timestamp}, nil
}
