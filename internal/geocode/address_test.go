package geocode

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddressClient_GeocodeAddress_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Slovenska cesta 1, ljubljana", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))

		resp := []nominatimPlace{{
			Lat:         "46.0569",
			Lon:         "14.5058",
			DisplayName: "Slovenska cesta 1, Ljubljana, Slovenija",
		}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewAddressClient(srv.URL, "ljubljana", 5*time.Second, testLogger(), testMetrics())
	result, err := c.GeocodeAddress(context.Background(), "Slovenska cesta 1")

	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, 46.0569, result.Point.Lat)
	assert.Equal(t, 14.5058, result.Point.Lng)
	assert.Equal(t, "Slovenska cesta 1, Ljubljana, Slovenija", result.DisplayName)
}

func TestAddressClient_GeocodeAddress_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewAddressClient(srv.URL, "ljubljana", 5*time.Second, testLogger(), testMetrics())
	result, err := c.GeocodeAddress(context.Background(), "Nowhere 99")

	require.NoError(t, err, "empty result set is not an error")
	assert.False(t, result.Found)
}

func TestAddressClient_GeocodeAddress_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAddressClient(srv.URL, "ljubljana", 5*time.Second, testLogger(), testMetrics())
	_, err := c.GeocodeAddress(context.Background(), "Slovenska cesta 1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestAddressClient_GeocodeAddress_MalformedCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"not-a-number","lon":"14.5"}]`))
	}))
	defer srv.Close()

	c := NewAddressClient(srv.URL, "ljubljana", 5*time.Second, testLogger(), testMetrics())
	_, err := c.GeocodeAddress(context.Background(), "Slovenska cesta 1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed coordinates")
}

func TestAddressClient_GeocodeAddress_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewAddressClient(srv.URL, "ljubljana", 5*time.Second, testLogger(), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GeocodeAddress(ctx, "Slovenska cesta 1")
	require.Error(t, err)
}
