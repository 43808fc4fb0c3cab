// Package cleanup removes stale giveaway posts and their ledger entries.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giveaway-bot/database"
	"giveaway-bot/models"
	"giveaway-bot/scanner"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Deleter removes a posted message. It returns models.ErrMessageNotFound when the
// message (or its channel) is already gone.
type Deleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Prober reports whether a giveaway page has ended.
type Prober interface {
	Expired(ctx context.Context, url string) (bool, error)
}

// DeleteError is a failed deletion. The ledger entry is kept for the next sweep.
type DeleteError struct {
	ChannelID string
	MessageID string
	URL       string
	Err       error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete message %s (%s) in channel %s: %v", e.MessageID, e.URL, e.ChannelID, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// Options controls when an entry is stale.
type Options struct {
	Retention   time.Duration // entries at least this old are stale
	CheckExpiry bool          // also treat younger entries as stale when their page has ended
}

// Report summarizes a sweep or clear.
type Report struct {
	Checked     int
	Deleted     int
	AlreadyGone int
	Kept        int
	Errors      []error
}

func (r *Report) add(o Report) {
	r.Checked += o.Checked
	r.Deleted += o.Deleted
	r.AlreadyGone += o.AlreadyGone
	r.Kept += o.Kept
	r.Errors = append(r.Errors, o.Errors...)
}

// Sweeper walks channel ledgers and deletes stale posts.
type Sweeper struct {
	store   *database.Store
	deleter Deleter
	prober  Prober
	locks   *scanner.RunLocks
	limiter *rate.Limiter
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a Sweeper. prober and limiter may be nil. locks should be the set
// the scanner uses so a sweep never overlaps a scan of the same channel.
func New(store *database.Store, deleter Deleter, prober Prober, locks *scanner.RunLocks, limiter *rate.Limiter, opts Options, logger zerolog.Logger) *Sweeper {
	if locks == nil {
		locks = scanner.NewRunLocks()
	}
	return &Sweeper{
		store:   store,
		deleter: deleter,
		prober:  prober,
		locks:   locks,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With().Str("module", "cleanup").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// RunCleanup sweeps every configured channel. Failures are reported and never stop
// the sweep. Cancelling ctx stops it between channels.
func (s *Sweeper) RunCleanup(ctx context.Context) Report {
	var total Report

	channels, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Could not list channels")
		total.Errors = append(total.Errors, err)
		return total
	}

	for _, cfg := range channels {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Cleanup interrupted by shutdown")
			break
		}
		if len(cfg.PostedLinks) == 0 {
			continue
		}
		rep, err := s.SweepChannel(context.WithoutCancel(ctx), cfg.ChannelID)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			s.logger.Error().Err(err).Str("channel", cfg.ChannelID).Msg("Cleanup aborted for channel")
		}
		total.add(rep)
	}

	s.logger.Info().
		Int("checked", total.Checked).
		Int("deleted", total.Deleted).
		Int("already_gone", total.AlreadyGone).
		Int("kept", total.Kept).
		Int("errors", len(total.Errors)).
		Msg("Cleanup finished")
	return total
}

// SweepChannel deletes the channel's stale posts and drops them from its ledger.
func (s *Sweeper) SweepChannel(ctx context.Context, channelID string) (Report, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	var rep Report
	cfg, ok, err := s.store.Get(ctx, channelID)
	if err != nil || !ok {
		return rep, err
	}

	now := s.now()
	for _, p := range cfg.PostedLinks {
		rep.Checked++
		if !s.stale(ctx, p, now) {
			rep.Kept++
			continue
		}

		var outcome error
		_, err := s.store.Update(ctx, channelID, func(c *models.ChannelConfig) error {
			cur, ok := c.FindPost(p.URL)
			if !ok {
				return errGone
			}
			outcome = s.delete(ctx, channelID, cur)
			if outcome != nil && !errors.Is(outcome, models.ErrMessageNotFound) {
				return outcome
			}
			c.RemovePost(cur.URL)
			return nil
		})

		switch {
		case errors.Is(err, errGone):
			// removed concurrently
		case err != nil && database.IsPersistenceError(err):
			return rep, err
		case err != nil:
			rep.Kept++
			rep.Errors = append(rep.Errors, err)
			s.logger.Warn().Err(err).Str("channel", channelID).Str("url", p.URL).Msg("Could not delete stale post")
		case outcome != nil:
			rep.AlreadyGone++
		default:
			rep.Deleted++
		}
	}
	return rep, nil
}

var errGone = errors.New("ledger entry already removed")

// clearHistoryDepth is how far back Clear looks for untracked bot messages.
const clearHistoryDepth = 500

// Clear deletes every tracked post of the channel regardless of age and empties its
// ledger. Deletion failures are reported but do not keep entries. When the deleter
// can read channel history, the bot's untracked messages among the most recent
// ones are deleted as well.
func (s *Sweeper) Clear(ctx context.Context, channelID string) (Report, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	var (
		rep     Report
		target  string
		handled map[string]bool
	)
	_, err := s.store.Update(ctx, channelID, func(c *models.ChannelConfig) error {
		rep = Report{}
		target = c.Target()
		handled = make(map[string]bool, len(c.PostedLinks))
		for _, p := range c.PostedLinks {
			rep.Checked++
			handled[p.MessageID] = true
			err := s.delete(ctx, channelID, p)
			switch {
			case err == nil:
				rep.Deleted++
			case errors.Is(err, models.ErrMessageNotFound):
				rep.AlreadyGone++
			default:
				rep.Errors = append(rep.Errors, err)
			}
		}
		c.PostedLinks = nil
		return nil
	})
	if err != nil {
		return rep, err
	}

	rep.add(s.clearUntracked(ctx, target, handled))

	s.logger.Info().Str("channel", channelID).Int("deleted", rep.Deleted).Int("errors", len(rep.Errors)).Msg("Channel ledger cleared")
	return rep, nil
}

func (s *Sweeper) clearUntracked(ctx context.Context, target string, handled map[string]bool) Report {
	var rep Report
	history, ok := s.deleter.(scanner.History)
	if !ok {
		return rep
	}
	msgs, err := history.RecentOwnMessages(ctx, target, clearHistoryDepth)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", target).Msg("Could not read channel history, untracked posts kept")
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	for _, m := range msgs {
		if handled[m.ID] {
			continue
		}
		rep.Checked++
		err := s.delete(ctx, target, models.PostedLink{MessageID: m.ID, TargetChannelID: target})
		switch {
		case err == nil:
			rep.Deleted++
		case errors.Is(err, models.ErrMessageNotFound):
			rep.AlreadyGone++
		default:
			rep.Errors = append(rep.Errors, err)
		}
	}
	return rep
}

func (s *Sweeper) stale(ctx context.Context, p models.PostedLink, now time.Time) bool {
	if now.Sub(p.PostedAt) >= s.opts.Retention {
		return true
	}
	if !s.opts.CheckExpiry || s.prober == nil {
		return false
	}
	expired, err := s.prober.Expired(ctx, p.URL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", p.URL).Msg("Expiry probe failed, keeping post")
		return false
	}
	return expired
}

func (s *Sweeper) delete(ctx context.Context, channelID string, p models.PostedLink) error {
	target := p.TargetChannelID
	if target == "" {
		target = channelID
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return &DeleteError{ChannelID: target, MessageID: p.MessageID, URL: p.URL, Err: err}
		}
	}
	if err := s.deleter.DeleteMessage(ctx, target, p.MessageID); err != nil {
		if errors.Is(err, models.ErrMessageNotFound) {
			return err
		}
		return &DeleteError{ChannelID: target, MessageID: p.MessageID, URL: p.URL, Err: err}
	}
	return nil
}
