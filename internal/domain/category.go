package domain

import (
	"encoding/json"
	"strings"
)

// Category classifies the kind of civic disruption a message describes.
type Category string

const (
	CategoryWater          Category = "water"
	CategorySewage         Category = "sewage"
	CategoryHeating        Category = "heating"
	CategoryElectricity    Category = "electricity"
	CategoryGas            Category = "gas"
	CategoryTraffic        Category = "traffic"
	CategoryPublicTransit  Category = "public-transport"
	CategoryParking        Category = "parking"
	CategoryConstruction   Category = "construction"
	CategoryRoadClosure    Category = "road-closure"
	CategoryTelecom        Category = "telecom"
	CategoryWaste          Category = "waste"
	CategoryStreetLighting Category = "street-lighting"
	CategoryPublicEvent    Category = "event"
	CategoryEmergency      Category = "emergency"
	CategoryEnvironment    Category = "environment"
	CategoryOther          Category = "other"

	// CategoryUncategorized is a UI-only pseudo-category for records the
	// classifier returned nothing for. It must never be persisted.
	CategoryUncategorized Category = "uncategorized"
)

// Categories lists every persistable category. CategoryUncategorized is
// deliberately excluded.
var Categories = []Category{
	CategoryWater,
	CategorySewage,
	CategoryHeating,
	CategoryElectricity,
	CategoryGas,
	CategoryTraffic,
	CategoryPublicTransit,
	CategoryParking,
	CategoryConstruction,
	CategoryRoadClosure,
	CategoryTelecom,
	CategoryWaste,
	CategoryStreetLighting,
	CategoryPublicEvent,
	CategoryEmergency,
	CategoryEnvironment,
	CategoryOther,
}

var categorySet = func() map[Category]struct{} {
	s := make(map[Category]struct{}, len(Categories))
	for _, c := range Categories {
		s[c] = struct{}{}
	}
	return s
}()

// Valid reports whether c is a member of the closed category enum.
// The uncategorized pseudo-category is not valid for persistence.
func (c Category) Valid() bool {
	_, ok := categorySet[c]
	return ok
}

// ParseCategoryList coerces the three accepted wire forms of a category field
// into a []Category: a native list, a JSON-array string, or a comma-separated
// string. Order and cardinality are preserved; no validation is applied here.
func ParseCategoryList(v any) []Category {
	switch val := v.(type) {
	case nil:
		return nil
	case []Category:
		return val
	case []string:
		out := make([]Category, len(val))
		for i, s := range val {
			out[i] = Category(strings.TrimSpace(s))
		}
		return out
	case []any:
		out := make([]Category, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, Category(strings.TrimSpace(s)))
			}
		}
		return out
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
				out := make([]Category, len(arr))
				for i, s := range arr {
					out[i] = Category(strings.TrimSpace(s))
				}
				return out
			}
		}
		parts := strings.Split(trimmed, ",")
		out := make([]Category, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, Category(p))
			}
		}
		return out
	default:
		return nil
	}
}
