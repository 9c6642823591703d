package geocode

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// AddressResult is a resolved point address.
type AddressResult struct {
	Point       domain.Point
	DisplayName string
	Found       bool
}

// AddressGeocoder resolves free-text addresses to points within the
// configured locality.
type AddressGeocoder interface {
	GeocodeAddress(ctx context.Context, address string) (AddressResult, error)
}

// StreetGeometry is what the map-data provider knows about one named street:
// its line geometry and a representative point. Either may be zero-length
// when the provider only had partial data.
type StreetGeometry struct {
	Line  orb.LineString
	Point orb.Point
}

// StreetGeocoder resolves street and stop names against a map-data provider.
// Both lookups are batchable: one request resolves many names.
type StreetGeocoder interface {
	// GeocodeStreets resolves street names to geometry, keyed by the exact
	// input name. Names the provider does not know are absent from the map.
	GeocodeStreets(ctx context.Context, names []string) (map[string]StreetGeometry, error)

	// GeocodeBusStops resolves public transport stop names to points.
	GeocodeBusStops(ctx context.Context, names []string) (map[string]orb.Point, error)
}

// CadastreGeocoder resolves cadastral parcel identifiers to polygon geometry.
// This is the least reliable provider: it is session-based and can fail
// outright, so callers must treat failures as omitted geometry, never as a
// message failure.
type CadastreGeocoder interface {
	GeocodeParcel(ctx context.Context, identifier string) (orb.Polygon, error)
}
