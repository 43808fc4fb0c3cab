package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"giveaway-bot/database"
	"giveaway-bot/extractor"
	"giveaway-bot/models"
	"giveaway-bot/ratelimit"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrNoSources is returned by manual actions when there is nothing to fetch.
	ErrNoSources = errors.New("no sources configured")
	// ErrAllSourcesFailed is returned by manual actions when no source could be fetched.
	ErrAllSourcesFailed = errors.New("every source failed to load")
)

// Poster sends a message to a chat channel and returns the new message's id.
type Poster interface {
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// History lists the bot's own recent messages in a channel, newest first. A Poster
// that also implements History lets a scan recognise links already posted there
// but missing from the ledger.
type History interface {
	RecentOwnMessages(ctx context.Context, channelID string, limit int) ([]models.ChannelMessage, error)
}

// historyDepth is how many recent messages are checked before posting.
const historyDepth = 200

// Fetcher retrieves a source page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SendError is a failed post. The link is left out of the ledger so the next
// pass retries it.
type SendError struct {
	ChannelID string
	URL       string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to channel %s: %v", e.URL, e.ChannelID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FormatPost renders the message posted for a link.
func FormatPost(link models.CandidateLink) string {
	title := link.Title
	if title == "" {
		title = link.URL
	}
	return fmt.Sprintf("🎁 %s\n%s", title, link.URL)
}

// Scanner is the scan orchestrator: fetch every source, extract and merge the
// candidates, then post the ones a channel has not seen yet.
type Scanner struct {
	store   *database.Store
	fetcher Fetcher
	poster  Poster
	history History
	sources []string
	limiter *rate.Limiter
	locks   *RunLocks
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a Scanner. limiter paces outgoing messages and may be nil.
func New(store *database.Store, fetcher Fetcher, poster Poster, sources []string, limiter *rate.Limiter, locks *RunLocks, logger zerolog.Logger) *Scanner {
	if locks == nil {
		locks = NewRunLocks()
	}
	history, _ := poster.(History)
	return &Scanner{
		store:   store,
		fetcher: fetcher,
		poster:  poster,
		history: history,
		sources: sources,
		limiter: limiter,
		locks:   locks,
		logger:  logger.With().Str("module", "scanner").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use it to move across UTC days.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// Sources returns the configured source list.
func (s *Scanner) Sources() []string { return s.sources }

// RunBackground scans every enabled channel. Sources are fetched once per pass.
// Cancelling ctx stops the pass between channels; a channel already being posted
// to is finished first.
func (s *Scanner) RunBackground(ctx context.Context) []models.ScanResult {
	channels, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Could not list enabled channels")
		return nil
	}
	if len(channels) == 0 {
		s.logger.Debug().Msg("No enabled channels, skipping scan")
		return nil
	}
	if len(s.sources) == 0 {
		s.logger.Warn().Msg("No sources configured, skipping scan")
		return nil
	}

	s.logger.Info().Int("sources", len(s.sources)).Int("channels", len(channels)).Msg("Starting background scan")
	pass := s.collect(ctx, s.sources)

	results := make([]models.ScanResult, 0, len(channels))
	for _, cfg := range channels {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Background scan interrupted by shutdown")
			break
		}
		unit := context.WithoutCancel(ctx)
		unlock := s.locks.Lock(cfg.ChannelID)
		res, err := s.postNew(unit, cfg.ChannelID, pass)
		unlock()

		if err != nil {
			s.logger.Error().Err(err).Str("channel", cfg.ChannelID).Msg("Background scan aborted for channel")
		}
		s.logResult(res, models.TriggerBackground)
		results = append(results, res)
	}
	return results
}

// ScanChannel runs a manual scan of one channel. It is allowed once per UTC day;
// the quota is consumed as soon as at least one source has been fetched, before
// anything is posted.
func (s *Scanner) ScanChannel(ctx context.Context, channelID string) (models.ScanResult, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	now := s.now()
	if err := s.checkQuota(ctx, channelID, models.ActionScan, now); err != nil {
		return models.ScanResult{ChannelID: channelID}, err
	}

	pass, err := s.collectForManual(ctx, s.sources)
	if err != nil {
		return pass.result(channelID), err
	}

	if err := s.consumeQuota(ctx, channelID, models.ActionScan, now); err != nil {
		return pass.result(channelID), err
	}

	res, err := s.postNew(ctx, channelID, pass)
	s.logResult(res, models.TriggerManual)
	return res, err
}

func (s *Scanner) checkQuota(ctx context.Context, channelID string, action models.Action, now time.Time) error {
	cfg, err := s.store.Quota(ctx, channelID)
	if err != nil {
		return err
	}
	return ratelimit.Check(cfg, action, now)
}

// consumeQuota marks action used today. The check is repeated inside the record
// lock so two racing callers cannot both consume it.
func (s *Scanner) consumeQuota(ctx context.Context, channelID string, action models.Action, now time.Time) error {
	return s.store.UseQuota(ctx, channelID, func(cfg *models.ChannelConfig) error {
		if err := ratelimit.Check(cfg, action, now); err != nil {
			return err
		}
		ratelimit.MarkUsed(cfg, action, now)
		return nil
	})
}

// postNew posts every candidate the channel has not seen, in discovery order.
// Each link is one critical section on the channel record: duplicate check, send
// and ledger write. A link found in the target's recent history is adopted into
// the ledger instead of being sent again. Send failures are collected; a
// persistence failure stops the channel. The channel record is created by the
// first successful post when it does not exist yet.
func (s *Scanner) postNew(ctx context.Context, channelID string, pass *sourcePass) (models.ScanResult, error) {
	res := pass.result(channelID)
	if len(pass.merged.Links) == 0 {
		return res, nil
	}

	historyTarget, onChannel := s.recentPosts(ctx, channelID)

	for _, link := range pass.merged.Links {
		adopted := false
		_, err := s.store.Upsert(ctx, channelID, func(cfg *models.ChannelConfig) error {
			if cfg.HasPost(link.URL) {
				return database.ErrAlreadyPosted
			}
			if msg, found := onChannel[link.URL]; found && cfg.Target() == historyTarget {
				adopted = cfg.AddPost(models.PostedLink{
					URL:             link.URL,
					MessageID:       msg.ID,
					TargetChannelID: historyTarget,
					PostedAt:        msg.Timestamp,
				})
				return nil
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return &SendError{ChannelID: channelID, URL: link.URL, Err: err}
				}
			}
			target := cfg.Target()
			msgID, err := s.poster.SendMessage(ctx, target, FormatPost(link))
			if err != nil {
				return &SendError{ChannelID: target, URL: link.URL, Err: err}
			}
			cfg.AddPost(models.PostedLink{
				URL:             link.URL,
				MessageID:       msgID,
				TargetChannelID: target,
				PostedAt:        s.now(),
			})
			return nil
		})

		var sendErr *SendError
		switch {
		case err == nil && adopted:
			s.logger.Info().Str("channel", channelID).Str("url", link.URL).Msg("Link already in channel history, recorded without reposting")
			res.SkippedDuplicate++
		case err == nil:
			res.NewLinks = append(res.NewLinks, link)
		case errors.Is(err, database.ErrAlreadyPosted):
			res.SkippedDuplicate++
		case errors.As(err, &sendErr):
			s.logger.Warn().Err(err).Str("channel", channelID).Str("url", link.URL).Msg("Failed to post link")
			res.Errors = append(res.Errors, err)
		default:
			res.Errors = append(res.Errors, err)
			return res, err
		}
	}
	return res, nil
}

// recentPosts returns the channel posts go to and the links the bot already posted
// there, keyed by canonical URL. History errors only cost the extra check.
func (s *Scanner) recentPosts(ctx context.Context, channelID string) (string, map[string]models.ChannelMessage) {
	target := channelID
	if cfg, ok, err := s.store.Get(ctx, channelID); err == nil && ok {
		target = cfg.Target()
	}
	if s.history == nil {
		return target, nil
	}

	msgs, err := s.history.RecentOwnMessages(ctx, target, historyDepth)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", target).Msg("Could not read channel history, relying on the ledger only")
		return target, nil
	}
	out := make(map[string]models.ChannelMessage, len(msgs))
	for _, m := range msgs {
		if u, ok := PostedURL(m.Content); ok {
			if _, seen := out[u]; !seen {
				out[u] = m
			}
		}
	}
	return target, out
}

// PostedURL extracts the canonical link from a message made by FormatPost.
func PostedURL(content string) (string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return "", false
	}
	u, _, ok := extractor.Normalize(strings.TrimSpace(lines[1]), nil)
	return u, ok
}

func (s *Scanner) logResult(res models.ScanResult, trigger models.Trigger) {
	s.logger.Info().
		Str("channel", res.ChannelID).
		Stringer("trigger", trigger).
		Int("posted", len(res.NewLinks)).
		Int("duplicates", res.SkippedDuplicate).
		Int("filtered", res.SkippedFiltered).
		Int("sources_failed", res.SourcesFailed).
		Int("errors", len(res.Errors)).
		Msg("Scan finished")
}

// SourceReport is what one source yielded during a pass.
type SourceReport struct {
	URL   string
	Links []models.CandidateLink
	Err   error
}

type sourcePass struct {
	reports []SourceReport
	merged  extractor.Extraction
	fetched int
	failed  int
	errs    []error
}

func (p *sourcePass) result(channelID string) models.ScanResult {
	return models.ScanResult{
		ChannelID:       channelID,
		SkippedFiltered: p.merged.Filtered,
		SourcesFetched:  p.fetched,
		SourcesFailed:   p.failed,
		Errors:          append([]error(nil), p.errs...),
	}
}

// collect fetches and extracts every source independently; a failing source is
// recorded and skipped.
func (s *Scanner) collect(ctx context.Context, sources []string) *sourcePass {
	pass := &sourcePass{}
	parts := make([]extractor.Extraction, 0, len(sources))

	for _, src := range sources {
		body, err := s.fetcher.Fetch(ctx, src)
		if err == nil {
			var ex extractor.Extraction
			ex, err = extractor.Extract(bytes.NewReader(body), src)
			if err == nil {
				pass.fetched++
				parts = append(parts, ex)
				pass.reports = append(pass.reports, SourceReport{URL: src, Links: ex.Links})
				s.logger.Debug().Str("source", src).Int("links", len(ex.Links)).Int("filtered", ex.Filtered).Msg("Source extracted")
				continue
			}
		}
		s.logger.Warn().Err(err).Str("source", src).Msg("Skipping source")
		pass.failed++
		pass.errs = append(pass.errs, err)
		pass.reports = append(pass.reports, SourceReport{URL: src, Err: err})
	}

	pass.merged = extractor.Merge(parts...)
	return pass
}

func (s *Scanner) collectForManual(ctx context.Context, sources []string) (*sourcePass, error) {
	if len(sources) == 0 {
		return &sourcePass{}, ErrNoSources
	}
	pass := s.collect(ctx, sources)
	if pass.fetched == 0 {
		return pass, ErrAllSourcesFailed
	}
	return pass, nil
}
