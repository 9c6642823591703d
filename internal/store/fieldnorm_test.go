package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

func TestFieldNormalizer(t *testing.T) {
	var norm FieldNormalizer
	created := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	spanStart := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)

	t.Run("mixed record", func(t *testing.T) {
		extracted := map[string]any{"pins": []any{}}
		out, err := norm.Normalize(map[string]any{
			"categories":    []string{"water", "electricity"},
			"extractedData": extracted,
			"createdAt":     created,
			"timespanStart": spanStart,
		})
		require.NoError(t, err)

		assert.Equal(t, []domain.Category{domain.CategoryWater, domain.CategoryElectricity}, out["categories"])
		assert.Equal(t, ServerTime, out["createdAt"])
		assert.Equal(t, spanStart, out["timespanStart"])

		blob, ok := out["extractedData"].(string)
		require.True(t, ok, "objects outside the native set become text blobs")
		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(blob), &parsed))
		assert.Equal(t, map[string]any{"pins": []any{}}, parsed)
	})

	t.Run("category coercion", func(t *testing.T) {
		tests := []struct {
			name  string
			input any
			want  []domain.Category
		}{
			{"json array string", `["water","gas"]`, []domain.Category{domain.CategoryWater, domain.CategoryGas}},
			{"comma separated", "water, gas", []domain.Category{domain.CategoryWater, domain.CategoryGas}},
			{"native list", []domain.Category{domain.CategoryTraffic}, []domain.Category{domain.CategoryTraffic}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				out, err := norm.Normalize(map[string]any{"categories": tc.input})
				require.NoError(t, err)
				assert.Equal(t, tc.want, out["categories"])
			})
		}
	})

	t.Run("timestamps become server time", func(t *testing.T) {
		out, err := norm.Normalize(map[string]any{
			"publishedAt":   created,
			"updated_at":    &created,
			"timespanStart": spanStart,
			"timespan_end":  &spanStart,
		})
		require.NoError(t, err)
		assert.Equal(t, ServerTime, out["publishedAt"])
		assert.Equal(t, ServerTime, out["updated_at"])
		assert.Equal(t, spanStart, out["timespanStart"])
		assert.Equal(t, spanStart, out["timespan_end"])
	})

	t.Run("native collections pass through", func(t *testing.T) {
		pins := []domain.Pin{{Address: "Main St 1"}}
		stops := []string{"Central"}
		out, err := norm.Normalize(map[string]any{
			"pins":     pins,
			"busStops": stops,
		})
		require.NoError(t, err)
		assert.Equal(t, pins, out["pins"])
		assert.Equal(t, stops, out["busStops"])
	})

	t.Run("nil and primitives pass through", func(t *testing.T) {
		out, err := norm.Normalize(map[string]any{
			"note":    nil,
			"text":    "water outage",
			"count":   3,
			"enabled": true,
		})
		require.NoError(t, err)
		assert.Nil(t, out["note"])
		assert.Equal(t, "water outage", out["text"])
		assert.Equal(t, 3, out["count"])
		assert.Equal(t, true, out["enabled"])
	})
}
