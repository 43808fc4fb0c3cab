package database

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"giveaway-bot/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := OpenStore(path, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func post(url, msg string, at time.Time) models.PostedLink {
	return models.PostedLink{URL: url, MessageID: msg, PostedAt: at}
}

func TestStore_UpsertCreatesAndGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	cfg, err := s.Upsert(ctx, "c1", func(c *models.ChannelConfig) error {
		c.Enabled = true
		c.TargetChannelID = "t1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", cfg.TargetChannelID)

	got, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Enabled)
	assert.Equal(t, "t1", got.Target())
	assert.True(t, got.LastScanDate.IsZero())
}

func TestStore_UpdateMissingChannel(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Update(context.Background(), "nope", func(*models.ChannelConfig) error { return nil })
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestStore_MutatorErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Upsert(ctx, "c1", func(c *models.ChannelConfig) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "c1", func(c *models.ChannelConfig) error {
		c.Enabled = true
		c.AddPost(post("https://gleam.io/a/b", "m1", time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Empty(t, got.PostedLinks)
}

func TestStore_RecordPostRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Upsert(ctx, "c1", func(*models.ChannelConfig) error { return nil })
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.RecordPost(ctx, "c1", post("https://gleam.io/a/b", "m1", now)))
	err = s.RecordPost(ctx, "c1", post("https://gleam.io/a/b", "m2", now))
	assert.ErrorIs(t, err, ErrAlreadyPosted)

	dup, err := s.IsDuplicate(ctx, "c1", "https://gleam.io/a/b")
	require.NoError(t, err)
	assert.True(t, dup)

	got, _, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.PostedLinks, 1)
	assert.Equal(t, "m1", got.PostedLinks[0].MessageID)
	assert.Equal(t, "c1", got.PostedLinks[0].TargetChannelID)
}

func TestStore_CrossChannelIndependence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	for _, id := range []string{"a", "b"} {
		_, err := s.Upsert(ctx, id, func(*models.ChannelConfig) error { return nil })
		require.NoError(t, err)
	}
	require.NoError(t, s.RecordPost(ctx, "a", post("https://wn.nr/xyz", "m1", time.Now())))

	dup, err := s.IsDuplicate(ctx, "b", "https://wn.nr/xyz")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NoError(t, s.RecordPost(ctx, "b", post("https://wn.nr/xyz", "m2", time.Now())))
}

func TestStore_ConcurrentRecordPostHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Upsert(ctx, "c1", func(*models.ChannelConfig) error { return nil })
	require.NoError(t, err)

	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RecordPost(ctx, "c1", post("https://gleam.io/a/b", "m", time.Now()))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyPosted):
				dups.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 7, dups.Load())
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s := openTestStore(t, path)
	_, err := s.Upsert(ctx, "c1", func(c *models.ChannelConfig) error {
		c.Enabled = true
		c.LastScanDate = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
		return nil
	})
	require.NoError(t, err)
	postedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordPost(ctx, "c1", post("https://gleam.io/a/b", "m1", postedAt)))
	// no Close: the write must already be durable
	reopened := openTestStore(t, path)
	defer reopened.Close()
	defer s.Close()

	got, ok, err := reopened.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Enabled)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.LastScanDate)
	require.Len(t, got.PostedLinks, 1)
	assert.True(t, postedAt.Equal(got.PostedLinks[0].PostedAt))
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a sqlite database "), 200), 0o644))

	s := openTestStore(t, path)
	defer s.Close()

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	matches, err := filepath.Glob(filepath.Join(dir, "state.db.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestStore_ListEnabledAndRemovePost(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Upsert(ctx, "on", func(c *models.ChannelConfig) error { c.Enabled = true; return nil })
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "off", func(*models.ChannelConfig) error { return nil })
	require.NoError(t, err)

	enabled, err := s.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].ChannelID)

	require.NoError(t, s.RecordPost(ctx, "on", post("https://gleam.io/a/b", "m1", time.Now())))
	require.NoError(t, s.RemovePost(ctx, "on", "https://gleam.io/a/b"))
	require.NoError(t, s.RemovePost(ctx, "on", "https://gleam.io/a/b"))
	require.NoError(t, s.RemovePost(ctx, "missing", "https://gleam.io/a/b"))

	dup, err := s.IsDuplicate(ctx, "on", "https://gleam.io/a/b")
	require.NoError(t, err)
	assert.False(t, dup)
}

// failLedgerInserts makes every ledger insert for channelID fail inside SQLite.
func failLedgerInserts(t *testing.T, s *Store, channelID string) {
	t.Helper()
	_, err := s.db.Exec(`CREATE TRIGGER fail_ledger BEFORE INSERT ON posted_links
		WHEN NEW.channel_id = '` + channelID + `'
		BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END;`)
	require.NoError(t, err)
}

func TestStore_FailedWriteLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Upsert(ctx, "bad", func(c *models.ChannelConfig) error {
		c.Enabled = true
		c.TargetChannelID = "feed"
		return nil
	})
	require.NoError(t, err)
	failLedgerInserts(t, s, "bad")

	_, err = s.Update(ctx, "bad", func(c *models.ChannelConfig) error {
		c.Enabled = false
		c.TargetChannelID = "elsewhere"
		c.AddPost(post("https://gleam.io/x/1", "m1", time.Now()))
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))

	got, ok, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Enabled)
	assert.Equal(t, "feed", got.TargetChannelID)
	assert.Empty(t, got.PostedLinks)

	// other channels still write
	_, err = s.Upsert(ctx, "good", func(c *models.ChannelConfig) error {
		c.AddPost(post("https://gleam.io/x/1", "m2", time.Now()))
		return nil
	})
	require.NoError(t, err)
}

func TestStore_UseQuotaNeverCreatesRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	s := openTestStore(t, path)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UseQuota(ctx, "guest", func(c *models.ChannelConfig) error {
		c.LastPreviewDate = day
		return nil
	}))

	_, ok, err := s.Get(ctx, "guest")
	require.NoError(t, err)
	assert.False(t, ok)
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.Close())
	s = openTestStore(t, path)
	defer s.Close()

	q, err := s.Quota(ctx, "guest")
	require.NoError(t, err)
	assert.Equal(t, day, q.LastPreviewDate)
	assert.True(t, q.LastScanDate.IsZero())

	// a later /setchannel sees the same quota
	cfg, err := s.Upsert(ctx, "guest", func(c *models.ChannelConfig) error {
		c.Enabled = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, day, cfg.LastPreviewDate)
}
