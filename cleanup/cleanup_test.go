package cleanup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"giveaway-bot/database"
	"giveaway-bot/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	mu      sync.Mutex
	calls   []string
	gone    map[string]bool
	failing map[string]bool
}

func (d *fakeDeleter) DeleteMessage(_ context.Context, channelID, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, channelID+"/"+messageID)
	if d.failing[messageID] {
		return errors.New("missing permissions")
	}
	if d.gone[messageID] {
		return models.ErrMessageNotFound
	}
	d.gone[messageID] = true
	return nil
}

type fakeProber map[string]bool

func (p fakeProber) Expired(_ context.Context, url string) (bool, error) {
	expired, ok := p[url]
	if !ok {
		return false, errors.New("unreachable")
	}
	return expired, nil
}

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, prober Prober, opts Options) (*database.Store, *fakeDeleter, *Sweeper) {
	t.Helper()
	store, err := database.OpenStore(filepath.Join(t.TempDir(), "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	del := &fakeDeleter{gone: map[string]bool{}, failing: map[string]bool{}}
	sw := New(store, del, prober, nil, nil, opts, zerolog.Nop())
	sw.SetClock(func() time.Time { return now })
	return store, del, sw
}

func seed(t *testing.T, store *database.Store, channelID string, posts ...models.PostedLink) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Upsert(ctx, channelID, func(c *models.ChannelConfig) error {
		c.Enabled = true
		return nil
	})
	require.NoError(t, err)
	for _, p := range posts {
		require.NoError(t, store.RecordPost(ctx, channelID, p))
	}
}

func ledger(t *testing.T, store *database.Store, channelID string) []models.PostedLink {
	t.Helper()
	cfg, ok, err := store.Get(context.Background(), channelID)
	require.NoError(t, err)
	require.True(t, ok)
	return cfg.PostedLinks
}

func TestRunCleanup_DeletesOnlyStale(t *testing.T) {
	store, del, sw := setup(t, nil, Options{Retention: 24 * time.Hour})
	seed(t, store, "c1",
		models.PostedLink{URL: "https://gleam.io/old/one", MessageID: "m1", PostedAt: now.Add(-25 * time.Hour)},
		models.PostedLink{URL: "https://gleam.io/new/two", MessageID: "m2", PostedAt: now.Add(-time.Hour)},
	)

	rep := sw.RunCleanup(context.Background())
	assert.Equal(t, 2, rep.Checked)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.Kept)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, []string{"c1/m1"}, del.calls)

	left := ledger(t, store, "c1")
	require.Len(t, left, 1)
	assert.Equal(t, "https://gleam.io/new/two", left[0].URL)
}

func TestRunCleanup_IsIdempotent(t *testing.T) {
	store, del, sw := setup(t, nil, Options{Retention: 24 * time.Hour})
	seed(t, store, "c1",
		models.PostedLink{URL: "https://gleam.io/old/one", MessageID: "m1", PostedAt: now.Add(-48 * time.Hour)},
	)

	first := sw.RunCleanup(context.Background())
	assert.Equal(t, 1, first.Deleted)

	second := sw.RunCleanup(context.Background())
	assert.Equal(t, 0, second.Checked)
	assert.Empty(t, second.Errors)
	assert.Len(t, del.calls, 1)
	assert.Empty(t, ledger(t, store, "c1"))
}

func TestRunCleanup_AlreadyGoneIsRemoved(t *testing.T) {
	store, del, sw := setup(t, nil, Options{Retention: time.Hour})
	del.gone["m1"] = true
	seed(t, store, "c1",
		models.PostedLink{URL: "https://wn.nr/abc", MessageID: "m1", PostedAt: now.Add(-2 * time.Hour)},
	)

	rep := sw.RunCleanup(context.Background())
	assert.Equal(t, 1, rep.AlreadyGone)
	assert.Empty(t, rep.Errors)
	assert.Empty(t, ledger(t, store, "c1"))
}

func TestRunCleanup_FailureKeepsEntryAndContinues(t *testing.T) {
	store, del, sw := setup(t, nil, Options{Retention: time.Hour})
	del.failing["m1"] = true
	seed(t, store, "c1",
		models.PostedLink{URL: "https://gleam.io/a/one", MessageID: "m1", PostedAt: now.Add(-3 * time.Hour)},
		models.PostedLink{URL: "https://gleam.io/b/two", MessageID: "m2", PostedAt: now.Add(-2 * time.Hour)},
	)
	seed(t, store, "c2",
		models.PostedLink{URL: "https://gleam.io/a/one", MessageID: "m3", PostedAt: now.Add(-2 * time.Hour)},
	)

	rep := sw.RunCleanup(context.Background())
	assert.Equal(t, 2, rep.Deleted)
	require.Len(t, rep.Errors, 1)
	var delErr *DeleteError
	assert.True(t, errors.As(rep.Errors[0], &delErr))
	assert.Equal(t, "m1", delErr.MessageID)

	left := ledger(t, store, "c1")
	require.Len(t, left, 1)
	assert.Equal(t, "m1", left[0].MessageID)
	assert.Empty(t, ledger(t, store, "c2"))
}

func TestRunCleanup_ExpiryProbe(t *testing.T) {
	prober := fakeProber{
		"https://gleam.io/ended/one": true,
		"https://gleam.io/live/two":  false,
	}
	store, _, sw := setup(t, prober, Options{Retention: 24 * time.Hour, CheckExpiry: true})
	seed(t, store, "c1",
		models.PostedLink{URL: "https://gleam.io/ended/one", MessageID: "m1", PostedAt: now.Add(-time.Hour)},
		models.PostedLink{URL: "https://gleam.io/live/two", MessageID: "m2", PostedAt: now.Add(-time.Hour)},
		models.PostedLink{URL: "https://gleam.io/unknown/three", MessageID: "m3", PostedAt: now.Add(-time.Hour)},
	)

	rep := sw.RunCleanup(context.Background())
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 2, rep.Kept)

	left := ledger(t, store, "c1")
	require.Len(t, left, 2)
	assert.Equal(t, "https://gleam.io/live/two", left[0].URL)
}

func TestClear_RemovesEverythingRegardlessOfAge(t *testing.T) {
	store, del, sw := setup(t, nil, Options{Retention: 24 * time.Hour})
	del.gone["m2"] = true
	del.failing["m3"] = true
	seed(t, store, "c1",
		models.PostedLink{URL: "https://gleam.io/a/one", MessageID: "m1", PostedAt: now},
		models.PostedLink{URL: "https://gleam.io/b/two", MessageID: "m2", PostedAt: now},
		models.PostedLink{URL: "https://gleam.io/c/three", MessageID: "m3", PostedAt: now},
	)
	seed(t, store, "c2",
		models.PostedLink{URL: "https://gleam.io/a/one", MessageID: "m4", PostedAt: now},
	)

	rep, err := sw.Clear(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.AlreadyGone)
	assert.Len(t, rep.Errors, 1)

	assert.Empty(t, ledger(t, store, "c1"))
	assert.Len(t, ledger(t, store, "c2"), 1)
}

func TestClear_UnknownChannel(t *testing.T) {
	_, _, sw := setup(t, nil, Options{Retention: time.Hour})
	_, err := sw.Clear(context.Background(), "nope")
	assert.ErrorIs(t, err, database.ErrChannelNotFound)
}

// historyDeleter is a fakeDeleter that also lists the bot's recent messages.
type historyDeleter struct {
	*fakeDeleter
	history map[string][]models.ChannelMessage
}

func (d *historyDeleter) RecentOwnMessages(_ context.Context, channelID string, limit int) ([]models.ChannelMessage, error) {
	msgs := d.history[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func TestClear_AlsoDeletesUntrackedBotMessages(t *testing.T) {
	store, err := database.OpenStore(filepath.Join(t.TempDir(), "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	del := &historyDeleter{
		fakeDeleter: &fakeDeleter{gone: map[string]bool{}, failing: map[string]bool{}},
		history: map[string][]models.ChannelMessage{
			"c1": {
				{ID: "m1", Content: "🎁 One\nhttps://gleam.io/a/one"},
				{ID: "orphan", Content: "🎁 Lost\nhttps://gleam.io/lost/post"},
			},
		},
	}
	sw := New(store, del, nil, nil, nil, Options{Retention: 24 * time.Hour}, zerolog.Nop())
	seed(t, store, "c1", models.PostedLink{URL: "https://gleam.io/a/one", MessageID: "m1", PostedAt: now})

	rep, err := sw.Clear(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Deleted)
	assert.Empty(t, rep.Errors)
	assert.ElementsMatch(t, []string{"c1/m1", "c1/orphan"}, del.calls)
	assert.Empty(t, ledger(t, store, "c1"))
}
