// Package ingest coordinates one ingestion run: source selection, text
// processing, geocoding, filtering, persistence, and finalization.
package ingest

import (
	"github.com/civicwatch/disruption-ingest/internal/domain"
	"github.com/civicwatch/disruption-ingest/internal/geocode"
)

// AgeFilter drops sources published before a day-granular cutoff. The
// cutoff is anchored at midnight UTC so it stays constant within a run.
type AgeFilter struct {
	maxAgeDays int
}

func NewAgeFilter(maxAgeDays int) *AgeFilter {
	return &AgeFilter{maxAgeDays: maxAgeDays}
}

// TooOld reports whether the document falls outside the ingestion window.
// A document published exactly at the cutoff instant is too old.
func (f *AgeFilter) TooOld(doc *domain.SourceDocument) bool {
	cutoff := domain.TodayUTC().AddDate(0, 0, -f.maxAgeDays)
	return !doc.PublishedAt.After(cutoff)
}

// BoundaryFilter restricts ingestion to sources and messages whose
// geometry touches the configured service area. A nil boundary disables
// the filter entirely.
type BoundaryFilter struct {
	boundary *geocode.Boundary
}

func NewBoundaryFilter(boundary *geocode.Boundary) *BoundaryFilter {
	return &BoundaryFilter{boundary: boundary}
}

// Enabled reports whether a boundary is configured.
func (f *BoundaryFilter) Enabled() bool {
	return f != nil && f.boundary != nil
}

// PrecomputedVerdict classifies a source's crawler-supplied geometry.
type PrecomputedVerdict int

const (
	// VerdictUnknown means the source carries no usable precomputed
	// geometry; the decision moves to after geocoding.
	VerdictUnknown PrecomputedVerdict = iota
	VerdictWithin
	VerdictOutside
)

// CheckPrecomputed judges the source by its precomputed geometry, if any.
// Geometry that fails to parse yields VerdictUnknown: a malformed crawler
// payload must not cost the source its ingestion.
func (f *BoundaryFilter) CheckPrecomputed(doc *domain.SourceDocument) PrecomputedVerdict {
	if !f.Enabled() || len(doc.PrecomputedGeometry) == 0 {
		return VerdictUnknown
	}
	within, parsed := f.boundary.ContainsRawGeometry(doc.PrecomputedGeometry)
	if !parsed {
		return VerdictUnknown
	}
	if within {
		return VerdictWithin
	}
	return VerdictOutside
}

// AllowsMessage reports whether a geocoded message may be persisted.
// City-wide messages always pass. A message whose geocoding produced no
// features passes only when sourceWithin says the source's precomputed
// geometry already placed it inside the service area; otherwise nothing
// ties it to the area and it is rejected.
func (f *BoundaryFilter) AllowsMessage(msg *domain.Message, sourceWithin bool) bool {
	if !f.Enabled() || msg.CityWide {
		return true
	}
	if msg.Geometry == nil || len(msg.Geometry.Features) == 0 {
		return sourceWithin
	}
	return f.boundary.ContainsFeatureCollection(msg.Geometry)
}
