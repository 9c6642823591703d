package geocode

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Boundary is the service-area polygon. A feature is within bounds when any
// of its coordinates falls inside the polygon; that is deliberately loose —
// a street section reaching into the service area is of interest even if it
// starts outside it.
type Boundary struct {
	polygons []orb.MultiPolygon
}

// LoadBoundary reads a GeoJSON polygon/multipolygon file. It accepts a
// FeatureCollection, a single Feature, or a bare geometry document. Loaded
// once per run.
func LoadBoundary(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary file: %w", err)
	}
	return ParseBoundary(data)
}

// ParseBoundary builds a Boundary from raw GeoJSON.
func ParseBoundary(data []byte) (*Boundary, error) {
	b := &Boundary{}

	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		for _, f := range fc.Features {
			b.addGeometry(f.Geometry)
		}
	} else if f, err := geojson.UnmarshalFeature(data); err == nil {
		b.addGeometry(f.Geometry)
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		b.addGeometry(g.Geometry())
	} else {
		return nil, fmt.Errorf("boundary is not valid GeoJSON: %w", err)
	}

	if len(b.polygons) == 0 {
		return nil, fmt.Errorf("boundary contains no polygon geometry")
	}
	return b, nil
}

func (b *Boundary) addGeometry(g orb.Geometry) {
	switch geom := g.(type) {
	case orb.Polygon:
		b.polygons = append(b.polygons, orb.MultiPolygon{geom})
	case orb.MultiPolygon:
		b.polygons = append(b.polygons, geom)
	}
}

// ContainsPoint reports whether a point lies inside the service area.
func (b *Boundary) ContainsPoint(p orb.Point) bool {
	for _, mp := range b.polygons {
		if planar.MultiPolygonContains(mp, p) {
			return true
		}
	}
	return false
}

// ContainsGeometry reports whether any coordinate of g lies inside the
// service area.
func (b *Boundary) ContainsGeometry(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	switch geom := g.(type) {
	case orb.Point:
		return b.ContainsPoint(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			if b.ContainsPoint(p) {
				return true
			}
		}
	case orb.LineString:
		for _, p := range geom {
			if b.ContainsPoint(p) {
				return true
			}
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			if b.ContainsGeometry(ls) {
				return true
			}
		}
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				if b.ContainsPoint(p) {
					return true
				}
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			if b.ContainsGeometry(poly) {
				return true
			}
		}
	case orb.Collection:
		for _, sub := range geom {
			if b.ContainsGeometry(sub) {
				return true
			}
		}
	}
	return false
}

// ContainsFeatureCollection reports whether any feature of fc intersects the
// service area.
func (b *Boundary) ContainsFeatureCollection(fc *geojson.FeatureCollection) bool {
	if fc == nil {
		return false
	}
	for _, f := range fc.Features {
		if b.ContainsGeometry(f.Geometry) {
			return true
		}
	}
	return false
}

// ContainsRawGeometry evaluates precomputed crawler geometry. The second
// return value reports whether the geometry could be parsed at all; callers
// fail open on false rather than dropping a source over malformed input.
func (b *Boundary) ContainsRawGeometry(raw json.RawMessage) (within bool, parsed bool) {
	if len(raw) == 0 {
		return false, false
	}
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil {
		return b.ContainsFeatureCollection(fc), true
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil {
		return b.ContainsGeometry(f.Geometry), true
	}
	if g, err := geojson.UnmarshalGeometry(raw); err == nil {
		return b.ContainsGeometry(g.Geometry()), true
	}
	return false, false
}
