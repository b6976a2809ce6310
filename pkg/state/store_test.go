package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "sent_posts.json"))
	require.NoError(t, err)
	return store
}

func TestRecordPublished(t *testing.T) {
	t.Run("creates a published record", func(t *testing.T) {
		store := newTestStore(t)

		exists, err := store.Exists("art-123")
		require.NoError(t, err)
		require.False(t, exists)

		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		exists, err = store.Exists("art-123")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("is idempotent", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		records, err := store.load()
		require.NoError(t, err)
		first := *records["art-123"]

		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		records, err = store.load()
		require.NoError(t, err)
		assert.Equal(t, first, *records["art-123"], "second call must leave the record unchanged")
	})

	t.Run("survives process restarts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sent_posts.json")

		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		reopened, err := NewFileStore(path)
		require.NoError(t, err)
		exists, err := reopened.Exists("art-123")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("clears a previous failure message on success", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.RecordFailure("art-123", SourceScrapedArticle, "SessionLost"))
		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		records, err := store.load()
		require.NoError(t, err)
		assert.Empty(t, records["art-123"].LastError)
		assert.Equal(t, 1, records["art-123"].AttemptCount)
	})
}

func TestRecordShared(t *testing.T) {
	t.Run("requires a published record", func(t *testing.T) {
		store := newTestStore(t)
		err := store.RecordShared("2026-08-30/day", "Ogloszenia Boguszow-Gorce")
		assert.ErrorIs(t, err, ErrNotPublished)
	})

	t.Run("adds targets without duplicates", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.RecordPublished("2026-08-30/day", SourceWeatherMap))
		require.NoError(t, store.RecordShared("2026-08-30/day", "group-a"))
		require.NoError(t, store.RecordShared("2026-08-30/day", "group-a"))
		require.NoError(t, store.RecordShared("2026-08-30/day", "group-b"))

		records, err := store.load()
		require.NoError(t, err)
		assert.Equal(t, []string{"group-a", "group-b"}, records["2026-08-30/day"].SharedTo)

		shared, err := store.WasShared("2026-08-30/day", "group-a")
		require.NoError(t, err)
		assert.True(t, shared)

		shared, err = store.WasShared("2026-08-30/day", "group-c")
		require.NoError(t, err)
		assert.False(t, shared)
	})
}

func TestRecordFailure(t *testing.T) {
	t.Run("tracks attempts without marking published", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.RecordFailure("art-123", SourceScrapedArticle, "SessionLost"))
		require.NoError(t, store.RecordFailure("art-123", SourceScrapedArticle, "ActionFailed"))

		exists, err := store.Exists("art-123")
		require.NoError(t, err)
		assert.False(t, exists, "a failed item must stay a candidate")

		records, err := store.load()
		require.NoError(t, err)
		assert.Equal(t, 2, records["art-123"].AttemptCount)
		assert.Equal(t, "ActionFailed", records["art-123"].LastError)
	})

	t.Run("keeps the publish timestamp of a published record", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))
		require.NoError(t, store.RecordFailure("art-123", SourceScrapedArticle, "share failed"))

		exists, err := store.Exists("art-123")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestFileStoreDurability(t *testing.T) {
	t.Run("a leftover temp file never shadows committed state", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		// Simulate a crash that left a partial temp file behind.
		require.NoError(t, os.WriteFile(store.Path()+".tmp", []byte(`{"version":"1.0","rec`), 0600))

		exists, err := store.Exists("art-123")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.RecordPublished("art-456", SourceScrapedArticle))
		exists, err = store.Exists("art-456")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("reports unreadable record sets as storage unavailable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sent_posts.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

		store, err := NewFileStore(path)
		require.NoError(t, err)

		_, err = store.Exists("art-123")
		assert.ErrorIs(t, err, ErrStorageUnavailable)

		err = store.RecordPublished("art-123", SourceScrapedArticle)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("writes the documented record layout", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.RecordPublished("art-123", SourceScrapedArticle))

		data, err := os.ReadFile(store.Path())
		require.NoError(t, err)

		var file struct {
			Version string                       `json:"version"`
			Records map[string]map[string]any    `json:"records"`
		}
		require.NoError(t, json.Unmarshal(data, &file))
		assert.Equal(t, "1.0", file.Version)

		rec := file.Records["art-123"]
		require.NotNil(t, rec)
		assert.Equal(t, "art-123", rec["identity"])
		assert.Equal(t, "scraped-article", rec["source_kind"])
		assert.NotEmpty(t, rec["published_at"])
	})
}
