package geocode

import "github.com/civicwatch/disruption-ingest/internal/domain"

// FindMissingStreetEndpoints computes, for each street section, which of its
// from/to endpoint names are absent from the already-geocoded set. The result
// is a flat list with duplicates preserved per street occurrence, so a single
// follow-up batch query can resolve exactly the gaps: two streets sharing an
// unresolved endpoint name list it twice.
func FindMissingStreetEndpoints(streets []domain.StreetSection, geocoded map[string]StreetGeometry) []string {
	var missing []string
	for _, s := range streets {
		if s.From != "" {
			if _, ok := geocoded[s.From]; !ok {
				missing = append(missing, s.From)
			}
		}
		if s.To != "" {
			if _, ok := geocoded[s.To]; !ok {
				missing = append(missing, s.To)
			}
		}
	}
	return missing
}
