package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoFace is returned when the photo contains no detectable face.
var ErrNoFace = errors.New("no face detected in image")

// Detection is the face presence result for an attendance photo.
type Detection struct {
	Score         float64 `json:"score"`
	FacesDetected int     `json:"faces_detected"`
	IsFrontal     bool    `json:"is_frontal"`
}

// Client calls the face detection microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip returns a fixed detection without calling the service.
	Skip bool
}

// New creates a client with a timeout suited to face processing.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Detect scores face presence in the photo at ref (a URL or a path the
// service can read).
func (c *Client) Detect(ctx context.Context, ref string) (Detection, error) {
	if c.Skip {
		return Detection{Score: 0.95, FacesDetected: 1, IsFrontal: true}, nil
	}
	if ref == "" {
		return Detection{}, errors.New("photo reference required")
	}

	body, _ := json.Marshal(map[string]string{"image_url": ref})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return Detection{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Detection{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Detection{}, fmt.Errorf("face service error %s: %s", resp.Status, string(msg))
	}

	var out Detection
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Detection{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.FacesDetected == 0 {
		return out, ErrNoFace
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
