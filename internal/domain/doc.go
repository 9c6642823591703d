// Package domain models civic-disruption announcements and the records
// derived from them.
//
// # Data Source
//
// Announcements are free text crawled from municipal and utility sources
// (water and power outage notices, road closures, construction bulletins,
// public transport diversions). The external crawler fleet writes each
// announcement as a SourceDocument keyed by its URL; this service never
// mutates source documents, only derives from them.
//
// # Derivation
//
// One SourceDocument yields zero or more Messages. An announcement often
// bundles several unrelated disruptions ("water off on Elm St; also tram 3
// diverted"), so the split stage of the text pipeline is the single fan-out
// point. Messages carry the structured location references the extractor
// found (pins, street sections, bus stops, cadastral parcels) plus the
// GeoJSON geometry the geocoders resolved for them. Entities that could not
// be geocoded stay in their structured arrays so the public record still
// lists them as text.
//
// # Identifiers
//
// Source document keys are deterministic SHA-256 hashes of the announcement
// URL (see [EncodeSourceID]); reprocessing the same announcement always hits
// the same dedup entry. Message slugs are short crypto-random public codes
// assigned exactly once; they are the only identifier exposed for
// deep-linking and never change after assignment.
//
// # Timespans
//
// Disruption timespans arrive as localized display strings
// ("20.01.2026 08:00") and are kept verbatim for rendering. A best-effort
// parsed instant is stored alongside; range queries use the document-level
// TimespanStart/TimespanEnd fields, never the display strings.
package domain
