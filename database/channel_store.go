package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"giveaway-bot/models"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

var (
	// ErrAlreadyPosted is returned when a url is already in a channel's ledger.
	ErrAlreadyPosted = errors.New("link already posted in this channel")
	// ErrChannelNotFound is returned by Update for channels that were never configured.
	ErrChannelNotFound = errors.New("channel not configured")
)

// PersistenceError means a durable write failed. The mutation it belonged to was
// not applied.
type PersistenceError struct {
	ChannelID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist channel %s: %v", e.ChannelID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Mutator edits a channel record inside its critical section. Returning an error
// discards the edit. A mutator must not call back into the Store for the same channel.
type Mutator func(cfg *models.ChannelConfig) error

// Store is the durable per-channel configuration and dedup ledger.
//
// Each channel has its own lock, held for the whole of a mutation (including any
// network call the mutator makes) and released only after the durable write.
// writeMu serialises the SQLite transactions of different channels.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	writeMu sync.Mutex
}

// OpenStore loads the channel state at path. A missing database starts empty; a
// corrupt one is moved aside and replaced with an empty one.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("module", "store").Logger()

	db, err := openChecked(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Channel state unreadable, starting with an empty store")
		if db != nil {
			db.Close()
		}
		if mvErr := quarantine(path); mvErr != nil {
			return nil, fmt.Errorf("quarantine corrupt state: %w", mvErr)
		}
		if db, err = openChecked(path); err != nil {
			return nil, fmt.Errorf("open fresh state: %w", err)
		}
	}

	logger.Info().Str("path", path).Msg("Channel state loaded")
	return &Store{
		db:     db,
		path:   path,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func openChecked(path string) (*sql.DB, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	if err := checkIntegrity(db); err != nil {
		return db, err
	}
	if err := createTables(db); err != nil {
		return db, err
	}
	return db, nil
}

// quarantine renames a damaged database (and its WAL side files) out of the way.
func quarantine(path string) error {
	suffix := fmt.Sprintf(".corrupt-%d", time.Now().Unix())
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Rename(p, p+suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying database, waiting for in-flight writes.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Close()
}

func (s *Store) channelLock(channelID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[channelID] = l
	}
	return l
}

// Get returns a copy of the channel's record. ok is false when it was never configured.
func (s *Store) Get(ctx context.Context, channelID string) (*models.ChannelConfig, bool, error) {
	return s.load(ctx, channelID)
}

// List returns every configured channel.
func (s *Store) List(ctx context.Context) ([]*models.ChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	out := make([]*models.ChannelConfig, 0, len(ids))
	for _, id := range ids {
		cfg, ok, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// ListEnabled returns the channels with posting switched on.
func (s *Store) ListEnabled(ctx context.Context) ([]*models.ChannelConfig, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, c := range all {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled, nil
}

// Upsert runs mutator on the channel's record (a default one when absent) under
// the channel lock and durably writes the result before releasing it.
func (s *Store) Upsert(ctx context.Context, channelID string, mutator Mutator) (*models.ChannelConfig, error) {
	return s.mutate(ctx, channelID, true, mutator)
}

// Update is Upsert for channels that must already exist.
func (s *Store) Update(ctx context.Context, channelID string, mutator Mutator) (*models.ChannelConfig, error) {
	return s.mutate(ctx, channelID, false, mutator)
}

func (s *Store) mutate(ctx context.Context, channelID string, create bool, mutator Mutator) (*models.ChannelConfig, error) {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	cfg, ok, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !create {
			return nil, ErrChannelNotFound
		}
		cfg = models.NewChannelConfig(channelID)
		if err := s.loadUsage(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if err := mutator(cfg); err != nil {
		return nil, err
	}
	cfg.ChannelID = channelID

	if err := s.write(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Quota returns the channel's record, or for a channel that was never configured a
// default record carrying only its quota dates.
func (s *Store) Quota(ctx context.Context, channelID string) (*models.ChannelConfig, error) {
	cfg, ok, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ok {
		return cfg, nil
	}
	cfg = models.NewChannelConfig(channelID)
	if err := s.loadUsage(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UseQuota runs mutator under the channel lock and durably stores the quota dates
// it leaves on the record. Nothing else is written and no channel record is created.
func (s *Store) UseQuota(ctx context.Context, channelID string, mutator Mutator) error {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	cfg, err := s.Quota(ctx, channelID)
	if err != nil {
		return err
	}
	if err := mutator(cfg); err != nil {
		return err
	}
	cfg.ChannelID = channelID
	return s.writeQuota(ctx, cfg)
}

// IsDuplicate reports whether url is already in the channel's ledger.
func (s *Store) IsDuplicate(ctx context.Context, channelID, url string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM posted_links WHERE channel_id = ? AND url = ?`, channelID, url).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return n > 0, nil
}

// RecordPost adds a ledger entry. It fails with ErrAlreadyPosted if url is already
// recorded for the channel.
func (s *Store) RecordPost(ctx context.Context, channelID string, post models.PostedLink) error {
	_, err := s.Update(ctx, channelID, func(cfg *models.ChannelConfig) error {
		if post.TargetChannelID == "" {
			post.TargetChannelID = cfg.Target()
		}
		if !cfg.AddPost(post) {
			return ErrAlreadyPosted
		}
		return nil
	})
	return err
}

// RemovePost drops url from the channel's ledger. Removing an absent entry is not an error.
func (s *Store) RemovePost(ctx context.Context, channelID, url string) error {
	_, err := s.Update(ctx, channelID, func(cfg *models.ChannelConfig) error {
		cfg.RemovePost(url)
		return nil
	})
	if errors.Is(err, ErrChannelNotFound) {
		return nil
	}
	return err
}

func (s *Store) load(ctx context.Context, channelID string) (*models.ChannelConfig, bool, error) {
	var (
		cfg     models.ChannelConfig
		enabled int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, target_channel_id, enabled
		FROM channels WHERE channel_id = ?`, channelID).
		Scan(&cfg.ChannelID, &cfg.TargetChannelID, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	cfg.Enabled = enabled != 0

	if err := s.loadLedger(ctx, &cfg); err != nil {
		return nil, false, err
	}
	if err := s.loadUsage(ctx, &cfg); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

func (s *Store) loadLedger(ctx context.Context, cfg *models.ChannelConfig) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, message_id, target_channel_id, posted_at
		FROM posted_links WHERE channel_id = ? ORDER BY posted_at, rowid`, cfg.ChannelID)
	if err != nil {
		return fmt.Errorf("load ledger %s: %w", cfg.ChannelID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.PostedLink
		var postedAt int64
		if err := rows.Scan(&p.URL, &p.MessageID, &p.TargetChannelID, &postedAt); err != nil {
			return fmt.Errorf("scan ledger %s: %w", cfg.ChannelID, err)
		}
		p.PostedAt = time.UnixMilli(postedAt).UTC()
		cfg.PostedLinks = append(cfg.PostedLinks, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load ledger %s: %w", cfg.ChannelID, err)
	}
	return nil
}

// loadUsage fills the quota dates. They are kept apart from the channel row so
// that using a daily action never creates a channel record.
func (s *Store) loadUsage(ctx context.Context, cfg *models.ChannelConfig) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, day FROM action_usage WHERE channel_id = ?`, cfg.ChannelID)
	if err != nil {
		return fmt.Errorf("load usage %s: %w", cfg.ChannelID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var day sql.NullString
		if err := rows.Scan(&action, &day); err != nil {
			return fmt.Errorf("scan usage %s: %w", cfg.ChannelID, err)
		}
		switch models.Action(action) {
		case models.ActionScan:
			cfg.LastScanDate = parseDate(day)
		case models.ActionPreview:
			cfg.LastPreviewDate = parseDate(day)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load usage %s: %w", cfg.ChannelID, err)
	}
	return nil
}

// write replaces the channel's row and ledger in one transaction.
func (s *Store) write(ctx context.Context, cfg *models.ChannelConfig) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	fail := func(e error) error { return &PersistenceError{ChannelID: cfg.ChannelID, Err: e} }

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel_id, target_channel_id, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			target_channel_id = excluded.target_channel_id,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		cfg.ChannelID, cfg.Target(), boolToInt(cfg.Enabled), s.now().UnixMilli())
	if err != nil {
		return fail(fmt.Errorf("write channel: %w", err))
	}

	if err = writeUsage(ctx, tx, cfg); err != nil {
		return fail(err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM posted_links WHERE channel_id = ?`, cfg.ChannelID); err != nil {
		return fail(fmt.Errorf("clear ledger: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posted_links (channel_id, url, message_id, target_channel_id, posted_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fail(fmt.Errorf("prepare ledger insert: %w", err))
	}
	defer stmt.Close()

	for _, p := range cfg.PostedLinks {
		if _, err = stmt.ExecContext(ctx, cfg.ChannelID, p.URL, p.MessageID, p.TargetChannelID, p.PostedAt.UnixMilli()); err != nil {
			return fail(fmt.Errorf("write ledger entry %s: %w", p.URL, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// writeQuota stores only the quota dates of cfg in one transaction.
func (s *Store) writeQuota(ctx context.Context, cfg *models.ChannelConfig) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	fail := func(e error) error { return &PersistenceError{ChannelID: cfg.ChannelID, Err: e} }

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = writeUsage(ctx, tx, cfg); err != nil {
		return fail(err)
	}
	if err = tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func writeUsage(ctx context.Context, tx *sql.Tx, cfg *models.ChannelConfig) error {
	days := []struct {
		action models.Action
		day    time.Time
	}{
		{models.ActionScan, cfg.LastScanDate},
		{models.ActionPreview, cfg.LastPreviewDate},
	}
	for _, d := range days {
		var err error
		if d.day.IsZero() {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM action_usage WHERE channel_id = ? AND action = ?`, cfg.ChannelID, string(d.action))
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO action_usage (channel_id, action, day) VALUES (?, ?, ?)
				ON CONFLICT(channel_id, action) DO UPDATE SET day = excluded.day`,
				cfg.ChannelID, string(d.action), formatDate(d.day))
		}
		if err != nil {
			return fmt.Errorf("write %s usage: %w", d.action, err)
		}
	}
	return nil
}

func parseDate(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(dateLayout, v.String, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
