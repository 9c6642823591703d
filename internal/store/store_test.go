package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(at))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func testSource(url string) *domain.SourceDocument {
	return &domain.SourceDocument{
		URL:         url,
		Title:       "Water outage",
		RawText:     "Water supply interrupted on Main Street.",
		SourceType:  "utility-notices",
		Locality:    "Riverton",
		PublishedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		CrawledAt:   time.Date(2026, 1, 10, 9, 5, 0, 0, time.UTC),
	}
}

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert and list roundtrip", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewSourceRepository(db)

		cityWide := true
		start := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
		doc := testSource("https://example.org/notices/1")
		doc.TimespanStart = &start
		doc.CityWide = &cityWide
		doc.PrecomputedGeometry = []byte(`{"type":"Point","coordinates":[24.1,56.9]}`)
		doc.PrecomputedCategories = []domain.Category{domain.CategoryWater}

		require.NoError(t, repo.Upsert(ctx, doc))

		docs, err := repo.ListByType(ctx, "utility-notices", 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)

		got := docs[0]
		assert.Equal(t, doc.URL, got.URL)
		assert.Equal(t, doc.RawText, got.RawText)
		assert.Equal(t, doc.Locality, got.Locality)
		require.NotNil(t, got.TimespanStart)
		assert.True(t, got.TimespanStart.Equal(start))
		assert.Nil(t, got.TimespanEnd)
		require.NotNil(t, got.CityWide)
		assert.True(t, *got.CityWide)
		assert.JSONEq(t, string(doc.PrecomputedGeometry), string(got.PrecomputedGeometry))
		assert.Equal(t, []domain.Category{domain.CategoryWater}, got.PrecomputedCategories)
	})

	t.Run("re-crawl replaces instead of duplicating", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewSourceRepository(db)

		doc := testSource("https://example.org/notices/2")
		require.NoError(t, repo.Upsert(ctx, doc))
		doc.RawText = "Updated announcement text."
		require.NoError(t, repo.Upsert(ctx, doc))

		docs, err := repo.ListByType(ctx, "utility-notices", 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Updated announcement text.", docs[0].RawText)
	})

	t.Run("ordering and limit", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewSourceRepository(db)

		for i := 0; i < 3; i++ {
			doc := testSource(fmt.Sprintf("https://example.org/notices/%d", i))
			doc.PublishedAt = time.Date(2026, 1, 10+i, 0, 0, 0, 0, time.UTC)
			require.NoError(t, repo.Upsert(ctx, doc))
		}

		docs, err := repo.ListByType(ctx, "utility-notices", 2)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.True(t, docs[0].PublishedAt.After(docs[1].PublishedAt), "newest first")
	})
}

func testMessage(id, sourceID string) *domain.Message {
	return &domain.Message{
		ID:               id,
		Text:             "Water supply interrupted on Main Street.",
		PlainText:        "Water supply interrupted on Main Street.",
		Categories:       []domain.Category{domain.CategoryWater},
		IsRelevant:       true,
		SourceDocumentID: sourceID,
		SourceURL:        "https://example.org/notices/1",
		Locality:         "Riverton",
		Pins: []domain.Pin{{
			Address:     "Main Street 12",
			Coordinates: &domain.Point{Lat: 56.9, Lng: 24.1},
		}},
		BusStops: []string{"Central"},
	}
}

func TestMessageRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("upsert and get roundtrip", func(t *testing.T) {
		db := newTestDB(t)
		freezeClock(t, now)
		repo := NewMessageRepository(db)

		msg := testMessage("src-abc-m0", "src-abc")
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(orb.Point{24.1, 56.9}))
		msg.Geometry = fc
		msg.AddWarning("geocoding failed for 1 of 2 pins")

		require.NoError(t, repo.Upsert(ctx, msg))

		got, err := repo.Get(ctx, "src-abc-m0")
		require.NoError(t, err)
		assert.Equal(t, msg.Text, got.Text)
		assert.Equal(t, msg.Categories, got.Categories)
		assert.Equal(t, msg.Pins, got.Pins)
		assert.Equal(t, msg.BusStops, got.BusStops)
		assert.Equal(t, msg.IngestErrors, got.IngestErrors)
		assert.True(t, got.CreatedAt.Equal(now), "created_at comes from the store clock")
		assert.Empty(t, got.Slug)
		assert.Nil(t, got.FinalizedAt)
		require.NotNil(t, got.Geometry)
		require.Len(t, got.Geometry.Features, 1)
	})

	t.Run("reprocessing preserves slug and finalization", func(t *testing.T) {
		db := newTestDB(t)
		freezeClock(t, now)
		repo := NewMessageRepository(db)

		msg := testMessage("src-abc-m0", "src-abc")
		require.NoError(t, repo.Upsert(ctx, msg))

		slug, err := repo.AssignSlug(ctx, msg.ID, "a1B2c3D4")
		require.NoError(t, err)
		require.Equal(t, "a1B2c3D4", slug)
		require.NoError(t, repo.MarkFinalized(ctx, msg.ID))

		msg.Text = "Revised announcement."
		require.NoError(t, repo.Upsert(ctx, msg))

		got, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "Revised announcement.", got.Text)
		assert.Equal(t, "a1B2c3D4", got.Slug)
		require.NotNil(t, got.FinalizedAt)
		assert.True(t, got.FinalizedAt.Equal(now))
	})

	t.Run("slug assignment is idempotent", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewMessageRepository(db)

		msg := testMessage("src-abc-m0", "src-abc")
		require.NoError(t, repo.Upsert(ctx, msg))

		first, err := repo.AssignSlug(ctx, msg.ID, "first111")
		require.NoError(t, err)
		second, err := repo.AssignSlug(ctx, msg.ID, "second22")
		require.NoError(t, err)
		assert.Equal(t, "first111", first)
		assert.Equal(t, "first111", second, "existing slug wins over a later candidate")

		exists, err := repo.SlugExists(ctx, "first111")
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = repo.SlugExists(ctx, "second22")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("assigning a slug to a missing message fails", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewMessageRepository(db)

		_, err := repo.AssignSlug(ctx, "no-such-id", "a1B2c3D4")
		require.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("existing source ids batches over the chunk size", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewMessageRepository(db)

		var ids []string
		for i := 0; i < batchSize*2+5; i++ {
			ids = append(ids, fmt.Sprintf("src-%03d", i))
		}
		// Persist messages for every third source.
		for i := 0; i < len(ids); i += 3 {
			require.NoError(t, repo.Upsert(ctx, testMessage(ids[i]+"-m0", ids[i])))
		}

		existing, err := repo.ExistingSourceIDs(ctx, ids)
		require.NoError(t, err)
		for i, id := range ids {
			assert.Equal(t, i%3 == 0, existing[id], id)
		}
	})

	t.Run("second finalization keeps the first stamp", func(t *testing.T) {
		db := newTestDB(t)
		clk := clockwork.NewFakeClockAt(now)
		domain.SetClock(clk)
		t.Cleanup(func() { domain.SetClock(nil) })
		repo := NewMessageRepository(db)

		msg := testMessage("src-abc-m0", "src-abc")
		require.NoError(t, repo.Upsert(ctx, msg))
		require.NoError(t, repo.MarkFinalized(ctx, msg.ID))

		clk.Advance(time.Hour)
		require.NoError(t, repo.MarkFinalized(ctx, msg.ID))

		got, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got.FinalizedAt)
		assert.True(t, got.FinalizedAt.Equal(now))
	})
}

func TestIngestStateRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("failures accumulate", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewIngestStateRepository(db)

		require.NoError(t, repo.RecordFailure(ctx, "src-abc", fmt.Errorf("split failed")))
		require.NoError(t, repo.RecordFailure(ctx, "src-abc", fmt.Errorf("extract failed")))

		n, err := repo.RetryCount(ctx, "src-abc")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("unknown source has zero retries", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewIngestStateRepository(db)

		n, err := repo.RetryCount(ctx, "src-unknown")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("exhausted sources", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewIngestStateRepository(db)

		for i := 0; i < 3; i++ {
			require.NoError(t, repo.RecordFailure(ctx, "src-flaky", fmt.Errorf("attempt %d", i)))
		}
		require.NoError(t, repo.RecordFailure(ctx, "src-once", fmt.Errorf("transient")))

		exhausted, err := repo.ExhaustedSourceIDs(ctx, []string{"src-flaky", "src-once", "src-clean"}, 3)
		require.NoError(t, err)
		assert.True(t, exhausted["src-flaky"])
		assert.False(t, exhausted["src-once"])
		assert.False(t, exhausted["src-clean"])
	})

	t.Run("success clears exhaustion but keeps the count", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewIngestStateRepository(db)

		for i := 0; i < 3; i++ {
			require.NoError(t, repo.RecordFailure(ctx, "src-flaky", fmt.Errorf("attempt %d", i)))
		}
		require.NoError(t, repo.RecordSuccess(ctx, "src-flaky"))

		exhausted, err := repo.ExhaustedSourceIDs(ctx, []string{"src-flaky"}, 3)
		require.NoError(t, err)
		assert.False(t, exhausted["src-flaky"])

		n, err := repo.RetryCount(ctx, "src-flaky")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}
