package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// Orchestrator turns the structured location references of a message into
// one GeoJSON FeatureCollection, trying each narrow-purpose provider for the
// entity kind it covers. Partial geocoding is acceptable: an entity that no
// provider could resolve keeps its place in the structured arrays, gets a
// warning on the message, and is simply absent from the geometry.
type Orchestrator struct {
	address  AddressGeocoder
	streets  StreetGeocoder
	cadastre CadastreGeocoder
	logger   *slog.Logger

	retries    int
	retryDelay time.Duration
}

// NewOrchestrator creates a geocoding orchestrator. retries bounds the
// per-call attempts against each provider.
func NewOrchestrator(address AddressGeocoder, streets StreetGeocoder, cadastre CadastreGeocoder, retries int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		address:    address,
		streets:    streets,
		cadastre:   cadastre,
		logger:     logger,
		retries:    retries,
		retryDelay: 250 * time.Millisecond,
	}
}

// Resolve enriches msg in place: pin coordinates, street endpoint
// coordinates, and the assembled feature collection. The only returned error
// is context cancellation; provider failures degrade to warnings.
func (o *Orchestrator) Resolve(ctx context.Context, msg *domain.Message) error {
	var features []*geojson.Feature

	features = append(features, o.resolvePins(ctx, msg)...)
	features = append(features, o.resolveStreets(ctx, msg)...)
	features = append(features, o.resolveBusStops(ctx, msg)...)
	features = append(features, o.resolveCadastral(ctx, msg)...)

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(features) > 0 {
		fc := geojson.NewFeatureCollection()
		fc.Features = features
		msg.Geometry = fc
	}
	return nil
}

func (o *Orchestrator) resolvePins(ctx context.Context, msg *domain.Message) []*geojson.Feature {
	var features []*geojson.Feature
	for i := range msg.Pins {
		pin := &msg.Pins[i]

		if pin.Coordinates == nil {
			var result AddressResult
			err := withRetry(ctx, o.retries, o.retryDelay, func() error {
				var inner error
				result, inner = o.address.GeocodeAddress(ctx, pin.Address)
				return inner
			})
			switch {
			case err != nil:
				o.logger.Warn("address geocoding failed",
					"message_id", msg.ID, "address", pin.Address, "error", err)
				msg.AddWarning(fmt.Sprintf("address could not be geocoded: %s", pin.Address))
				continue
			case !result.Found:
				msg.AddWarning(fmt.Sprintf("address not found: %s", pin.Address))
				continue
			}
			pin.Coordinates = &result.Point
		}

		f := geojson.NewFeature(orb.Point{pin.Coordinates.Lng, pin.Coordinates.Lat})
		f.Properties["kind"] = "pin"
		f.Properties["label"] = pin.Address
		features = append(features, f)
	}
	return features
}

func (o *Orchestrator) resolveStreets(ctx context.Context, msg *domain.Message) []*geojson.Feature {
	if len(msg.Streets) == 0 {
		return nil
	}

	names := make([]string, 0, len(msg.Streets))
	seen := make(map[string]struct{}, len(msg.Streets))
	for _, s := range msg.Streets {
		if _, ok := seen[s.Street]; !ok {
			seen[s.Street] = struct{}{}
			names = append(names, s.Street)
		}
	}

	geocoded := o.batchStreets(ctx, msg, names)

	// Second pass fills only the endpoint names the first batch missed,
	// so shared endpoints cost one follow-up query instead of one per street.
	if missing := FindMissingStreetEndpoints(msg.Streets, geocoded); len(missing) > 0 {
		for name, geom := range o.batchStreets(ctx, msg, dedupe(missing)) {
			geocoded[name] = geom
		}
	}

	var features []*geojson.Feature
	for i := range msg.Streets {
		street := &msg.Streets[i]

		geom, ok := geocoded[street.Street]
		if !ok {
			msg.AddWarning(fmt.Sprintf("street not found: %s", street.Street))
			continue
		}

		if from, ok := geocoded[street.From]; ok && street.From != "" {
			street.FromCoordinates = &domain.Point{Lat: from.Point.Lat(), Lng: from.Point.Lon()}
		}
		if to, ok := geocoded[street.To]; ok && street.To != "" {
			street.ToCoordinates = &domain.Point{Lat: to.Point.Lat(), Lng: to.Point.Lon()}
		}

		if len(geom.Line) >= 2 {
			f := geojson.NewFeature(geom.Line)
			f.Properties["kind"] = "street"
			f.Properties["label"] = streetLabel(street)
			features = append(features, f)
		} else {
			f := geojson.NewFeature(geom.Point)
			f.Properties["kind"] = "street"
			f.Properties["label"] = streetLabel(street)
			features = append(features, f)
		}
	}
	return features
}

func (o *Orchestrator) batchStreets(ctx context.Context, msg *domain.Message, names []string) map[string]StreetGeometry {
	if len(names) == 0 {
		return map[string]StreetGeometry{}
	}
	var geocoded map[string]StreetGeometry
	err := withRetry(ctx, o.retries, o.retryDelay, func() error {
		var inner error
		geocoded, inner = o.streets.GeocodeStreets(ctx, names)
		return inner
	})
	if err != nil {
		o.logger.Warn("street geocoding failed", "message_id", msg.ID, "error", err)
		msg.AddWarning("street geocoding unavailable")
		return map[string]StreetGeometry{}
	}
	return geocoded
}

func (o *Orchestrator) resolveBusStops(ctx context.Context, msg *domain.Message) []*geojson.Feature {
	if len(msg.BusStops) == 0 {
		return nil
	}

	var stops map[string]orb.Point
	err := withRetry(ctx, o.retries, o.retryDelay, func() error {
		var inner error
		stops, inner = o.streets.GeocodeBusStops(ctx, msg.BusStops)
		return inner
	})
	if err != nil {
		o.logger.Warn("bus stop geocoding failed", "message_id", msg.ID, "error", err)
		msg.AddWarning("bus stop geocoding unavailable")
		return nil
	}

	var features []*geojson.Feature
	for _, name := range msg.BusStops {
		pt, ok := stops[name]
		if !ok {
			msg.AddWarning(fmt.Sprintf("bus stop not found: %s", name))
			continue
		}
		f := geojson.NewFeature(pt)
		f.Properties["kind"] = "bus-stop"
		f.Properties["label"] = name
		features = append(features, f)
	}
	return features
}

func (o *Orchestrator) resolveCadastral(ctx context.Context, msg *domain.Message) []*geojson.Feature {
	var features []*geojson.Feature
	for _, prop := range msg.CadastralProperties {
		var poly orb.Polygon
		err := withRetry(ctx, o.retries, o.retryDelay, func() error {
			var inner error
			poly, inner = o.cadastre.GeocodeParcel(ctx, prop.Identifier)
			return inner
		})
		switch {
		case errors.Is(err, ErrCadastreDisabled):
			return nil
		case err != nil:
			o.logger.Warn("cadastre lookup failed",
				"message_id", msg.ID, "parcel", prop.Identifier, "error", err)
			msg.AddWarning(fmt.Sprintf("parcel geometry unavailable: %s", prop.Identifier))
			continue
		case len(poly) == 0:
			msg.AddWarning(fmt.Sprintf("parcel not found: %s", prop.Identifier))
			continue
		}

		f := geojson.NewFeature(poly)
		f.Properties["kind"] = "parcel"
		f.Properties["label"] = prop.Identifier
		features = append(features, f)
	}
	return features
}

func streetLabel(s *domain.StreetSection) string {
	if s.From != "" || s.To != "" {
		return fmt.Sprintf("%s (%s – %s)", s.Street, s.From, s.To)
	}
	return s.Street
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
