package location

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// UnavailableLabel is submitted when no position could be obtained.
const UnavailableLabel = "Location unavailable"

// detectedLabel is used when the lookup succeeded but returned nothing usable.
const detectedLabel = "Location detected"

// DefaultTimeout bounds how long Resolve waits for a position.
const DefaultTimeout = 30 * time.Second

var (
	ErrGeolocationDenied  = errors.New("geolocation permission denied")
	ErrGeolocationTimeout = errors.New("geolocation timed out")
	ErrGeocodingService   = errors.New("geocoding service error")
)

// ErrorCode mirrors the device geolocation error codes.
type ErrorCode int

const (
	PermissionDenied    ErrorCode = 1
	PositionUnavailable ErrorCode = 2
	Timeout             ErrorCode = 3
)

// PositionError is returned by providers when no fix is available.
type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("geolocation error %d: %s", e.Code, e.Message)
}

// Is maps device codes onto the package sentinels.
func (e *PositionError) Is(target error) bool {
	switch target {
	case ErrGeolocationDenied:
		return e.Code == PermissionDenied
	case ErrGeolocationTimeout:
		return e.Code == Timeout
	}
	return false
}

// Request carries the acquisition hints passed to a provider.
type Request struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaxAge of zero refuses cached fixes.
	MaxAge time.Duration
}

// Fix is a device position.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Timestamp time.Time
}

// Provider acquires device coordinates.
type Provider interface {
	Locate(ctx context.Context, req Request) (Fix, error)
}

// Address holds the reverse geocoding components used for labels.
type Address struct {
	Suburb        string
	Neighbourhood string
	Quarter       string
	Road          string
	City          string
	Town          string
	Village       string
	State         string
	DisplayName   string
}

// Geocoder turns coordinates into an address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

// Result is what the resolver hands to submission. Coordinates are 0,0 when
// Available is false.
type Result struct {
	Fix       Fix
	Label     string
	Available bool
}

// Resolver combines a provider and a geocoder. Resolve never fails.
type Resolver struct {
	provider Provider
	geocoder Geocoder
	timeout  time.Duration
}

// NewResolver builds a resolver. A zero timeout uses DefaultTimeout.
func NewResolver(p Provider, g Geocoder, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{provider: p, geocoder: g, timeout: timeout}
}

// Resolve returns coordinates and a non-empty label.
func (r *Resolver) Resolve(ctx context.Context) (res Result) {
	unavailable := Result{Label: UnavailableLabel}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("location resolver panic: %v", rec)
			res = unavailable
		}
	}()
	if r.provider == nil {
		return unavailable
	}

	fix, err := r.locate(ctx)
	if err != nil {
		log.Printf("location unavailable: %v", err)
		return unavailable
	}

	res = Result{Fix: fix, Available: true}
	if r.geocoder == nil {
		res.Label = coordinateLabel(fix.Latitude, fix.Longitude)
		return res
	}
	addr, err := r.geocoder.Reverse(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		log.Printf("reverse geocoding failed: %v", err)
		res.Label = coordinateLabel(fix.Latitude, fix.Longitude)
		return res
	}
	res.Label = Label(addr)
	return res
}

// locate waits for the provider no longer than the resolver timeout, even if
// the provider ignores its context.
func (r *Resolver) locate(ctx context.Context) (Fix, error) {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type located struct {
		fix Fix
		err error
	}
	ch := make(chan located, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- located{err: fmt.Errorf("provider panic: %v", rec)}
			}
		}()
		fix, err := r.provider.Locate(lctx, Request{HighAccuracy: true, Timeout: r.timeout, MaxAge: 0})
		ch <- located{fix: fix, err: err}
	}()

	select {
	case l := <-ch:
		if errors.Is(l.err, context.DeadlineExceeded) {
			return Fix{}, &PositionError{Code: Timeout, Message: l.err.Error()}
		}
		return l.fix, l.err
	case <-lctx.Done():
		return Fix{}, &PositionError{Code: Timeout, Message: lctx.Err().Error()}
	}
}

// Label joins suburb, road, city and state, in that order, skipping the
// missing ones.
func Label(a Address) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{
		firstOf(a.Suburb, a.Neighbourhood, a.Quarter),
		a.Road,
		firstOf(a.City, a.Town, a.Village),
		a.State,
	} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return detectedLabel
}

func coordinateLabel(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
