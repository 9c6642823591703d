package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// StreetClient implements StreetGeocoder against an Overpass-compatible
// map-data API. Many names resolve in a single query: the request is a union
// of per-name clauses over the locality area.
type StreetClient struct {
	httpClient *http.Client
	baseURL    string
	locality   string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewStreetClient creates a map-data client scoped to a locality.
func NewStreetClient(baseURL, locality string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *StreetClient {
	return &StreetClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		locality:   locality,
		logger:     logger,
		metrics:    metrics,
	}
}

// GeocodeStreets resolves street names to line geometry in one batch query.
func (c *StreetClient) GeocodeStreets(ctx context.Context, names []string) (map[string]StreetGeometry, error) {
	if len(names) == 0 {
		return map[string]StreetGeometry{}, nil
	}

	var q strings.Builder
	fmt.Fprintf(&q, "[out:json][timeout:25];area[name=%q]->.loc;(", c.locality)
	for _, name := range names {
		fmt.Fprintf(&q, "way[highway][name=%q](area.loc);", name)
	}
	q.WriteString(");out geom;")

	elements, err := c.query(ctx, "street", q.String())
	if err != nil {
		return nil, err
	}

	out := make(map[string]StreetGeometry, len(names))
	for _, el := range elements {
		name := el.Tags["name"]
		if name == "" || len(el.Geometry) == 0 {
			continue
		}
		geom := out[name]
		for _, pt := range el.Geometry {
			geom.Line = append(geom.Line, orb.Point{pt.Lon, pt.Lat})
		}
		// Representative point: the middle vertex of the accumulated line.
		geom.Point = geom.Line[len(geom.Line)/2]
		out[name] = geom
	}
	return out, nil
}

// GeocodeBusStops resolves public transport stop names to points in one
// batch query.
func (c *StreetClient) GeocodeBusStops(ctx context.Context, names []string) (map[string]orb.Point, error) {
	if len(names) == 0 {
		return map[string]orb.Point{}, nil
	}

	var q strings.Builder
	fmt.Fprintf(&q, "[out:json][timeout:25];area[name=%q]->.loc;(", c.locality)
	for _, name := range names {
		fmt.Fprintf(&q, "node[highway=bus_stop][name=%q](area.loc);", name)
		fmt.Fprintf(&q, "node[public_transport=platform][name=%q](area.loc);", name)
	}
	q.WriteString(");out;")

	elements, err := c.query(ctx, "street", q.String())
	if err != nil {
		return nil, err
	}

	out := make(map[string]orb.Point, len(names))
	for _, el := range elements {
		name := el.Tags["name"]
		if name == "" {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = orb.Point{el.Lon, el.Lat}
		}
	}
	return out, nil
}

func (c *StreetClient) query(ctx context.Context, provider, overpassQL string) ([]overpassElement, error) {
	form := url.Values{"data": {overpassQL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
		return nil, fmt.Errorf("map-data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("map-data API error: status %d: %s", resp.StatusCode, body)
	}

	var parsed overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Elements) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(provider, "empty").Inc()
	} else {
		c.metrics.GeocodeRequests.WithLabelValues(provider, "success").Inc()
	}
	return parsed.Elements, nil
}

// Overpass API response types.

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []overpassPoint   `json:"geometry"`
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
