package ingest_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/geocode"
	"github.com/civicwatch/disruption-ingest/internal/ingest"
)

// unitSquare is a 0..10 degree square service area.
const unitSquare = `{
	"type": "Feature",
	"geometry": {
		"type": "Polygon",
		"coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]
	}
}`

func testBoundary(t *testing.T) *geocode.Boundary {
	t.Helper()
	b, err := geocode.ParseBoundary([]byte(unitSquare))
	require.NoError(t, err)
	return b
}

func TestAgeFilter(t *testing.T) {
	now := time.Date(2026, 4, 15, 13, 45, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	filter := ingest.NewAgeFilter(90)
	cutoff := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		publishedAt time.Time
		tooOld      bool
	}{
		{"published today", now, false},
		{"published just inside the window", cutoff.Add(time.Minute), false},
		{"published exactly at the cutoff", cutoff, true},
		{"published before the cutoff", cutoff.Add(-time.Hour), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := &domain.SourceDocument{PublishedAt: tc.publishedAt}
			assert.Equal(t, tc.tooOld, filter.TooOld(doc))
		})
	}
}

func TestBoundaryFilter_CheckPrecomputed(t *testing.T) {
	filter := ingest.NewBoundaryFilter(testBoundary(t))

	tests := []struct {
		name     string
		geometry string
		want     ingest.PrecomputedVerdict
	}{
		{"inside", `{"type":"Point","coordinates":[5,5]}`, ingest.VerdictWithin},
		{"outside", `{"type":"Point","coordinates":[50,50]}`, ingest.VerdictOutside},
		{"no geometry", "", ingest.VerdictUnknown},
		{"malformed geometry fails open", `{"type":"Poly`, ingest.VerdictUnknown},
		{"wrong shape fails open", `{"kind":"not-geojson"}`, ingest.VerdictUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := &domain.SourceDocument{}
			if tc.geometry != "" {
				doc.PrecomputedGeometry = []byte(tc.geometry)
			}
			assert.Equal(t, tc.want, filter.CheckPrecomputed(doc))
		})
	}

	t.Run("disabled filter never judges", func(t *testing.T) {
		disabled := ingest.NewBoundaryFilter(nil)
		doc := &domain.SourceDocument{PrecomputedGeometry: []byte(`{"type":"Point","coordinates":[50,50]}`)}
		assert.Equal(t, ingest.VerdictUnknown, disabled.CheckPrecomputed(doc))
	})
}

func TestBoundaryFilter_AllowsMessage(t *testing.T) {
	filter := ingest.NewBoundaryFilter(testBoundary(t))

	fcAt := func(p orb.Point) *geojson.FeatureCollection {
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(p))
		return fc
	}

	t.Run("inside geometry passes", func(t *testing.T) {
		msg := &domain.Message{Geometry: fcAt(orb.Point{5, 5})}
		assert.True(t, filter.AllowsMessage(msg, false))
	})

	t.Run("outside geometry is rejected", func(t *testing.T) {
		msg := &domain.Message{Geometry: fcAt(orb.Point{50, 50})}
		assert.False(t, filter.AllowsMessage(msg, false))
	})

	t.Run("city-wide message passes regardless of geometry", func(t *testing.T) {
		msg := &domain.Message{CityWide: true, Geometry: fcAt(orb.Point{50, 50})}
		assert.True(t, filter.AllowsMessage(msg, false))
	})

	t.Run("message without features is rejected", func(t *testing.T) {
		assert.False(t, filter.AllowsMessage(&domain.Message{}, false))
		assert.False(t, filter.AllowsMessage(&domain.Message{Geometry: geojson.NewFeatureCollection()}, false))
	})

	t.Run("message without features passes when the source is placed inside", func(t *testing.T) {
		assert.True(t, filter.AllowsMessage(&domain.Message{}, true))
	})

	t.Run("disabled filter passes everything", func(t *testing.T) {
		disabled := ingest.NewBoundaryFilter(nil)
		assert.True(t, disabled.AllowsMessage(&domain.Message{}, false))
	})
}
