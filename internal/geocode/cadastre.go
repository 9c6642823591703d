package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// CadastreClient implements CadastreGeocoder against the public cadastre
// portal. The portal requires a session: an initial request yields a session
// token that subsequent parcel queries must carry. Sessions expire server
// side without notice, so one re-establishment is attempted per query before
// giving up. Queries are single-item only; the portal has no batch endpoint.
type CadastreClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	session string
}

// NewCadastreClient creates a cadastre client. baseURL may be empty, in
// which case every lookup returns ErrCadastreDisabled.
func NewCadastreClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CadastreClient {
	return &CadastreClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// ErrCadastreDisabled is returned when no cadastre endpoint is configured.
var ErrCadastreDisabled = errors.New("cadastre provider not configured")

// GeocodeParcel resolves one cadastral identifier to polygon geometry.
func (c *CadastreClient) GeocodeParcel(ctx context.Context, identifier string) (orb.Polygon, error) {
	if c.baseURL == "" {
		return nil, ErrCadastreDisabled
	}

	start := time.Now()
	poly, err := c.queryParcel(ctx, identifier)
	if errors.Is(err, errSessionExpired) {
		// One re-establishment per query; beyond that the provider is down.
		c.resetSession()
		poly, err = c.queryParcel(ctx, identifier)
	}
	c.metrics.GeocodeDuration.WithLabelValues("cadastre").Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("cadastre", "error").Inc()
		return nil, err
	case len(poly) == 0:
		c.metrics.GeocodeRequests.WithLabelValues("cadastre", "empty").Inc()
		return nil, nil
	default:
		c.metrics.GeocodeRequests.WithLabelValues("cadastre", "success").Inc()
		return poly, nil
	}
}

var errSessionExpired = errors.New("cadastre session expired")

func (c *CadastreClient) queryParcel(ctx context.Context, identifier string) (orb.Polygon, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"parcel":  {identifier},
		"session": {session},
		"format":  {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/parcel?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cadastre request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cadastre API error: status %d: %s", resp.StatusCode, body)
	}

	var parcel cadastreParcel
	if err := json.NewDecoder(resp.Body).Decode(&parcel); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parcel.Boundary) < 3 {
		return nil, nil
	}

	ring := make(orb.Ring, 0, len(parcel.Boundary)+1)
	for _, pt := range parcel.Boundary {
		ring = append(ring, orb.Point{pt.Lon, pt.Lat})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

func (c *CadastreClient) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", nil)
	if err != nil {
		return "", fmt.Errorf("create session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cadastre session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cadastre session error: status %d: %s", resp.StatusCode, body)
	}

	var session cadastreSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if session.Token == "" {
		return "", errors.New("cadastre session response missing token")
	}

	c.session = session.Token
	c.logger.Debug("cadastre session established")
	return c.session, nil
}

func (c *CadastreClient) resetSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// Cadastre portal response types.

type cadastreSession struct {
	Token string `json:"token"`
}

type cadastreParcel struct {
	Identifier string          `json:"identifier"`
	Boundary   []cadastrePoint `json:"boundary"`
}

type cadastrePoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
