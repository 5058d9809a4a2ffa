package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NominatimGeocoder calls the OpenStreetMap Nominatim reverse endpoint.
type NominatimGeocoder struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewNominatim creates a geocoder with a bounded request timeout.
func NewNominatim(baseURL, userAgent string) *NominatimGeocoder {
	return &NominatimGeocoder{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		Quarter       string `json:"quarter"`
		Road          string `json:"road"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
	} `json:"address"`
}

// Reverse looks up the address for a coordinate pair.
func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("zoom", "18")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Address{}, err
	}
	req.Header.Set("User-Agent", g.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrGeocodingService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Address{}, fmt.Errorf("%w: %s: %s", ErrGeocodingService, resp.Status, string(body))
	}

	var out nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Address{}, fmt.Errorf("%w: decode response: %v", ErrGeocodingService, err)
	}
	return Address{
		Suburb:        out.Address.Suburb,
		Neighbourhood: out.Address.Neighbourhood,
		Quarter:       out.Address.Quarter,
		Road:          out.Address.Road,
		City:          out.Address.City,
		Town:          out.Address.Town,
		Village:       out.Address.Village,
		State:         out.Address.State,
		DisplayName:   out.DisplayName,
	}, nil
}
