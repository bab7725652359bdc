package sentinel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPAPILookup(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"country": "Germany",
			"countryCode": "DE",
			"region": "BE",
			"city": "Berlin",
			"org": "Example Org",
			"isp": "Example ISP",
			"lat": 52.52,
			"lon": 13.405,
			"timezone": "Europe/Berlin"
		}`))
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.URL)
	rec, err := p.Lookup(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/203.0.113.7" {
		t.Fatalf("expected IP in path, got %q", gotPath)
	}
	if rec.Country != "Germany" || rec.CountryCode != "DE" || rec.City != "Berlin" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Lat != 52.52 || rec.Lon != 13.405 {
		t.Fatalf("unexpected coordinates: %+v", rec)
	}
}

func TestIPAPILookupRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": "fail", "message": "private range"}`))
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.URL)
	if _, err := p.Lookup(context.Background(), "192.0.2.1"); err == nil {
		t.Fatal("expected error for rejected lookup")
	} else if !strings.Contains(err.Error(), "private range") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestIPAPILookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewIPAPIProvider(srv.URL)
	if _, err := p.Lookup(context.Background(), "203.0.113.7"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestIPInfoLookup(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"country": "FR",
			"region": "Ile-de-France",
			"city": "Paris",
			"org": "AS12345 Example",
			"loc": "48.8566,2.3522",
			"timezone": "Europe/Paris"
		}`))
	}))
	defer srv.Close()

	p := NewIPInfoProvider(srv.URL, "secret-token")
	rec, err := p.Lookup(context.Background(), "198.51.100.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "token=secret-token" {
		t.Fatalf("expected token query, got %q", gotQuery)
	}
	if rec.Country != "FR" || rec.City != "Paris" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Lat != 48.8566 || rec.Lon != 2.3522 {
		t.Fatalf("expected loc split into coordinates, got %+v", rec)
	}
	if rec.Org != "AS12345 Example" || rec.ISP != "AS12345 Example" {
		t.Fatalf("expected org mirrored into isp, got %+v", rec)
	}
}

func TestParseLoc(t *testing.T) {
	cases := []struct {
		in       string
		lat, lon float64
	}{
		{"48.8566,2.3522", 48.8566, 2.3522},
		{" 10.5 , -20.25 ", 10.5, -20.25},
		{"garbage", 0, 0},
		{"1,2,3", 0, 0},
		{"", 0, 0},
	}
	for _, tc := range cases {
		lat, lon := parseLoc(tc.in)
		if lat != tc.lat || lon != tc.lon {
			t.Fatalf("parseLoc(%q) = %v,%v want %v,%v", tc.in, lat, lon, tc.lat, tc.lon)
		}
	}
}
