package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// AddressClient implements AddressGeocoder against a Nominatim-compatible
// search endpoint, tuned for point addresses within one locality.
type AddressClient struct {
	httpClient *http.Client
	baseURL    string
	locality   string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewAddressClient creates an address geocoding client scoped to a locality.
func NewAddressClient(baseURL, locality string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *AddressClient {
	return &AddressClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		locality:   locality,
		logger:     logger,
		metrics:    metrics,
	}
}

// GeocodeAddress resolves one free-text address to a point. A response with
// no results is not an error: the caller records a warning and keeps the pin
// without coordinates.
func (c *AddressClient) GeocodeAddress(ctx context.Context, address string) (AddressResult, error) {
	query := address
	if c.locality != "" {
		query = fmt.Sprintf("%s, %s", address, c.locality)
	}

	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}

	start := time.Now()
	result, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	c.metrics.GeocodeDuration.WithLabelValues("address").Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("address", "error").Inc()
	case !result.Found:
		c.metrics.GeocodeRequests.WithLabelValues("address", "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues("address", "success").Inc()
	}
	return result, err
}

func (c *AddressClient) doRequest(ctx context.Context, fullURL string) (AddressResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return AddressResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "disruption-ingest/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AddressResult{}, fmt.Errorf("address geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return AddressResult{}, fmt.Errorf("address geocoder error: status %d: %s", resp.StatusCode, body)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return AddressResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(places) == 0 {
		return AddressResult{}, nil
	}

	p := places[0]
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lng, errLng := strconv.ParseFloat(p.Lon, 64)
	if errLat != nil || errLng != nil {
		return AddressResult{}, fmt.Errorf("address geocoder returned malformed coordinates: %q, %q", p.Lat, p.Lon)
	}

	return AddressResult{
		Point:       domain.Point{Lat: lat, Lng: lng},
		DisplayName: p.DisplayName,
		Found:       true,
	}, nil
}

// Nominatim API response types.

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}
