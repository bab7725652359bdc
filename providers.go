package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultIPAPIBaseURL  = "http://ip-api.com/json"
	defaultIPInfoBaseURL = "https://ipinfo.io"

	// providerClientTimeout backstops callers without a context deadline.
	// The enricher's per-attempt context (geoAttemptTimeout) is the
	// effective bound; the client allows headroom so only one fires.
	providerClientTimeout = geoAttemptTimeout + 2*time.Second
)

// IPAPIProvider queries ip-api.com, the free primary provider (no key, ~45
// requests per minute).
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
}

// NewIPAPIProvider builds the primary provider. baseURL is overridable for
// tests; empty means the public endpoint.
func NewIPAPIProvider(baseURL string) *IPAPIProvider {
	if baseURL == "" {
		baseURL = defaultIPAPIBaseURL
	}
	return &IPAPIProvider{
		client:  &http.Client{Timeout: providerClientTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *IPAPIProvider) Name() string { return "ip-api" }

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (*GeoRecord, error) {
	url := fmt.Sprintf(
		"%s/%s?fields=status,message,country,countryCode,region,city,org,isp,lat,lon,timezone",
		p.baseURL, ip,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ip-api: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ip-api: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status      string  `json:"status"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		Region      string  `json:"region"`
		City        string  `json:"city"`
		Org         string  `json:"org"`
		ISP         string  `json:"isp"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		Timezone    string  `json:"timezone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ip-api: decode response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("ip-api: lookup rejected: %s", body.Message)
	}

	return &GeoRecord{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.Region,
		City:        body.City,
		Org:         body.Org,
		ISP:         body.ISP,
		Lat:         body.Lat,
		Lon:         body.Lon,
		Timezone:    body.Timezone,
	}, nil
}

// IPInfoProvider queries ipinfo.io, the secondary provider. An optional API
// token raises its request limit.
type IPInfoProvider struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewIPInfoProvider builds the secondary provider. token may be empty.
func NewIPInfoProvider(baseURL, token string) *IPInfoProvider {
	if baseURL == "" {
		baseURL = defaultIPInfoBaseURL
	}
	return &IPInfoProvider{
		client:  &http.Client{Timeout: providerClientTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (p *IPInfoProvider) Name() string { return "ipinfo" }

func (p *IPInfoProvider) Lookup(ctx context.Context, ip string) (*GeoRecord, error) {
	url := fmt.Sprintf("%s/%s/json", p.baseURL, ip)
	if p.token != "" {
		url += "?token=" + p.token
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ipinfo: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipinfo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipinfo: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Country  string `json:"country"`
		Region   string `json:"region"`
		City     string `json:"city"`
		Org      string `json:"org"`
		Loc      string `json:"loc"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ipinfo: decode response: %w", err)
	}

	rec := &GeoRecord{
		Country:     body.Country,
		CountryCode: body.Country,
		Region:      body.Region,
		City:        body.City,
		Org:         body.Org,
		ISP:         body.Org,
		Timezone:    body.Timezone,
	}
	rec.Lat, rec.Lon = parseLoc(body.Loc)
	return rec, nil
}

// parseLoc splits ipinfo's "lat,lon" pair; malformed input yields zeros.
func parseLoc(loc string) (lat, lon float64) {
	parts := strings.Split(loc, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return lat, lon
}
