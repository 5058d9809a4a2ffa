package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	fix   Fix
	err   error
	block bool
	panic bool
	req   Request
}

func (f *fakeProvider) Locate(ctx context.Context, req Request) (Fix, error) {
	f.req = req
	if f.panic {
		panic("gps driver crashed")
	}
	if f.block {
		<-ctx.Done()
		return Fix{}, ctx.Err()
	}
	return f.fix, f.err
}

type fakeGeocoder struct {
	addr  Address
	err   error
	calls int
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	f.calls++
	return f.addr, f.err
}

var chennai = Fix{Latitude: 13.0827, Longitude: 80.2707, Accuracy: 12}

func TestResolveRoadAndCity(t *testing.T) {
	r := NewResolver(&fakeProvider{fix: chennai}, &fakeGeocoder{addr: Address{Road: "Anna Salai", City: "Chennai"}}, 0)
	res := r.Resolve(context.Background())
	if res.Label != "Anna Salai, Chennai" {
		t.Fatalf("unexpected label %q", res.Label)
	}
	if !res.Available || res.Fix.Latitude != 13.0827 || res.Fix.Longitude != 80.2707 {
		t.Fatalf("unexpected fix %+v", res)
	}
}

func TestResolveRequestsFreshHighAccuracyFix(t *testing.T) {
	p := &fakeProvider{fix: chennai}
	NewResolver(p, nil, 0).Resolve(context.Background())
	if !p.req.HighAccuracy || p.req.MaxAge != 0 || p.req.Timeout != DefaultTimeout {
		t.Fatalf("unexpected request %+v", p.req)
	}
}

func TestResolveGeocoderErrorFallsBackToCoordinates(t *testing.T) {
	r := NewResolver(&fakeProvider{fix: chennai}, &fakeGeocoder{err: ErrGeocodingService}, 0)
	res := r.Resolve(context.Background())
	if res.Label != "13.0827, 80.2707" {
		t.Fatalf("unexpected label %q", res.Label)
	}
}

func TestResolveNeverFails(t *testing.T) {
	denied := &PositionError{Code: PermissionDenied, Message: "User denied Geolocation"}
	cases := []struct {
		name     string
		provider Provider
		geocoder Geocoder
		want     string
	}{
		{"denied", &fakeProvider{err: denied}, &fakeGeocoder{}, UnavailableLabel},
		{"unavailable", &fakeProvider{err: &PositionError{Code: PositionUnavailable}}, &fakeGeocoder{}, UnavailableLabel},
		{"timeout", &fakeProvider{block: true}, &fakeGeocoder{}, UnavailableLabel},
		{"panic", &fakeProvider{panic: true}, &fakeGeocoder{}, UnavailableLabel},
		{"nil provider", nil, &fakeGeocoder{}, UnavailableLabel},
		{"empty address", &fakeProvider{fix: chennai}, &fakeGeocoder{}, detectedLabel},
		{"display name", &fakeProvider{fix: chennai}, &fakeGeocoder{addr: Address{DisplayName: "Chennai, Tamil Nadu, India"}}, "Chennai, Tamil Nadu, India"},
		{"no geocoder", &fakeProvider{fix: chennai}, nil, "13.0827, 80.2707"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewResolver(tc.provider, tc.geocoder, 20*time.Millisecond).Resolve(context.Background())
			if res.Label != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, res.Label)
			}
			if res.Label == UnavailableLabel && (res.Fix.Latitude != 0 || res.Fix.Longitude != 0 || res.Available) {
				t.Fatalf("expected 0,0 sentinel, got %+v", res)
			}
		})
	}
}

type stubbornProvider struct{}

func (stubbornProvider) Locate(ctx context.Context, req Request) (Fix, error) {
	time.Sleep(time.Second)
	return chennai, nil
}

func TestResolveBoundedEvenWhenProviderIgnoresContext(t *testing.T) {
	start := time.Now()
	res := NewResolver(stubbornProvider{}, nil, 20*time.Millisecond).Resolve(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("resolver waited too long")
	}
	if res.Label != UnavailableLabel {
		t.Fatalf("expected unavailable, got %q", res.Label)
	}
}

func TestLabelPrecedence(t *testing.T) {
	got := Label(Address{
		Neighbourhood: "Teynampet",
		Quarter:       "ignored",
		Road:          "Anna Salai",
		Town:          "Chennai",
		Village:       "ignored",
		State:         "Tamil Nadu",
	})
	if got != "Teynampet, Anna Salai, Chennai, Tamil Nadu" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestPositionErrorSentinels(t *testing.T) {
	if !errors.Is(&PositionError{Code: PermissionDenied}, ErrGeolocationDenied) {
		t.Fatalf("denied should match ErrGeolocationDenied")
	}
	if !errors.Is(&PositionError{Code: Timeout}, ErrGeolocationTimeout) {
		t.Fatalf("timeout should match ErrGeolocationTimeout")
	}
	if errors.Is(&PositionError{Code: PositionUnavailable}, ErrGeolocationDenied) {
		t.Fatalf("unavailable should not match denied")
	}
}

func TestNominatimReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("lat") != "13.0827" || q.Get("lon") != "80.2707" || q.Get("zoom") != "18" || q.Get("addressdetails") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "fieldattend-test" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Anna Salai, Chennai","address":{"road":"Anna Salai","city":"Chennai"}}`))
	}))
	defer srv.Close()

	addr, err := NewNominatim(srv.URL+"/", "fieldattend-test").Reverse(context.Background(), 13.0827, 80.2707)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if Label(addr) != "Anna Salai, Chennai" {
		t.Fatalf("unexpected label %q", Label(addr))
	}
}

func TestNominatimServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	if _, err := NewNominatim(srv.URL, "ua").Reverse(context.Background(), 1, 2); !errors.Is(err, ErrGeocodingService) {
		t.Fatalf("expected ErrGeocodingService, got %v", err)
	}
}

func TestCachedGeocoderKeysByRoundedCoordinates(t *testing.T) {
	inner := &fakeGeocoder{addr: Address{Road: "Anna Salai"}}
	c := NewCachedGeocoder(inner, time.Minute)
	for _, lat := range []float64{13.08271, 13.08274, 13.0827} {
		if _, err := c.Reverse(context.Background(), lat, 80.2707); err != nil {
			t.Fatalf("reverse: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
	if _, err := c.Reverse(context.Background(), 13.1, 80.2707); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected a second upstream call, got %d", inner.calls)
	}
}

func TestCachedGeocoderSkipsErrorsAndExpires(t *testing.T) {
	inner := &fakeGeocoder{err: ErrGeocodingService}
	c := NewCachedGeocoder(inner, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	_, _ = c.Reverse(context.Background(), 1, 1)
	inner.err = nil
	if _, err := c.Reverse(context.Background(), 1, 1); err != nil {
		t.Fatalf("expected retry after failure, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	_, _ = c.Reverse(context.Background(), 1, 1)
	if inner.calls != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", inner.calls)
	}
}

type gatedGeocoder struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGeocoder) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	close(g.entered)
	select {
	case <-g.release:
		return Address{Road: "Anna Salai", City: "Chennai"}, nil
	case <-ctx.Done():
		return Address{}, ctx.Err()
	}
}

func TestCachedGeocoderSharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	inner := &gatedGeocoder{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedGeocoder(inner, time.Minute)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Reverse(firstCtx, 13.0827, 80.2707)
		first <- err
	}()
	<-inner.entered

	type result struct {
		addr Address
		err  error
	}
	second := make(chan result, 1)
	go func() {
		addr, err := c.Reverse(context.Background(), 13.0827, 80.2707)
		second <- result{addr, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: expected context.Canceled, got %v", err)
	}
	close(inner.release)
	got := <-second
	if got.err != nil || Label(got.addr) != "Anna Salai, Chennai" {
		t.Fatalf("second caller: unexpected %+v", got)
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("high_accuracy") != "1" || r.URL.Query().Get("max_age_ms") != "0" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"latitude":13.0827,"longitude":80.2707,"accuracy":8}`))
	}))
	defer srv.Close()
	fix, err := NewHTTPProvider(srv.URL).Locate(context.Background(), Request{HighAccuracy: true})
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if fix.Latitude != 13.0827 || fix.Accuracy != 8 || fix.Timestamp.IsZero() {
		t.Fatalf("unexpected fix %+v", fix)
	}
}

func TestHTTPProviderDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":1,"message":"User denied Geolocation"}`))
	}))
	defer srv.Close()
	_, err := NewHTTPProvider(srv.URL).Locate(context.Background(), Request{})
	if !errors.Is(err, ErrGeolocationDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
}
