// Package service holds the process-wide state of the bot and turns command
// requests into results, independent of how the chat platform delivers them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"giveaway-bot/cleanup"
	"giveaway-bot/database"
	"giveaway-bot/models"
	"giveaway-bot/scanner"

	"github.com/rs/zerolog"
)

// Kind is one of the commands the bot understands.
type Kind string

const (
	KindSetChannel Kind = "setchannel"
	KindStart      Kind = "start"
	KindStop       Kind = "stop"
	KindScan       Kind = "scan"
	KindClear      Kind = "clear"
	KindPreview    Kind = "preview"
	KindHelp       Kind = "help"
)

// Kinds lists every command in help order.
var Kinds = []Kind{KindPreview, KindHelp, KindSetChannel, KindStart, KindStop, KindScan, KindClear}

// Request is a command invocation. Authorization has already been checked.
type Request struct {
	Kind      Kind
	ActorID   string
	GuildID   string
	ChannelID string // channel the command was used in
	TargetID  string // setchannel: channel to post into, empty for ChannelID
	URL       string // preview: single page to preview instead of the sources
}

// Status classifies a Result.
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

// Result is what the invoking user is told.
type Result struct {
	Status     Status
	Message    string
	RetryAfter time.Duration // set when Status is StatusRateLimited
}

// ChannelValidator checks that a channel exists and can receive text posts.
type ChannelValidator interface {
	ValidateTextChannel(ctx context.Context, channelID string) error
}

// Service is the process-wide context: state store, scan and cleanup engines,
// and configuration. Every command goes through Dispatch.
type Service struct {
	Config    models.Config
	Store     *database.Store
	Scanner   *scanner.Scanner
	Sweeper   *cleanup.Sweeper
	Validator ChannelValidator

	logger zerolog.Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New assembles a Service from already-initialised components.
func New(cfg models.Config, store *database.Store, sc *scanner.Scanner, sw *cleanup.Sweeper, validator ChannelValidator, logger zerolog.Logger) *Service {
	return &Service{
		Config:    cfg,
		Store:     store,
		Scanner:   sc,
		Sweeper:   sw,
		Validator: validator,
		logger:    logger.With().Str("module", "service").Logger(),
	}
}

// Close refuses new commands, waits for the running ones to finish and then
// flushes and closes the channel state.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.inflight.Wait()
	return s.Store.Close()
}

func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Dispatch runs one command to completion. After Close has been called every
// command is refused.
func (s *Service) Dispatch(ctx context.Context, req Request) Result {
	log := s.logger.With().Str("command", string(req.Kind)).Str("channel", req.ChannelID).Str("actor", req.ActorID).Logger()
	if !s.enter() {
		log.Info().Msg("Refusing command during shutdown")
		return failf("The bot is shutting down. Please try again in a moment.")
	}
	defer s.inflight.Done()
	log.Debug().Msg("Dispatching command")

	var res Result
	switch req.Kind {
	case KindSetChannel:
		res = s.setChannel(ctx, req)
	case KindStart:
		res = s.start(ctx, req)
	case KindStop:
		res = s.stop(ctx, req)
	case KindScan:
		res = s.scan(ctx, req)
	case KindClear:
		res = s.clear(ctx, req)
	case KindPreview:
		res = s.preview(ctx, req)
	case KindHelp:
		res = ok(s.helpText())
	default:
		res = failf("Unknown command %q.", req.Kind)
	}

	if res.Status == StatusError {
		log.Warn().Str("result", res.Message).Msg("Command failed")
	} else {
		log.Info().Stringer("status", res.Status).Msg("Command handled")
	}
	return res
}

func (s *Service) setChannel(ctx context.Context, req Request) Result {
	target := req.TargetID
	if target == "" {
		target = req.ChannelID
	}
	if s.Validator != nil {
		if err := s.Validator.ValidateTextChannel(ctx, target); err != nil {
			return failf("<#%s> is not a text channel I can post in: %v", target, err)
		}
	}

	_, err := s.Store.Upsert(ctx, req.ChannelID, func(c *models.ChannelConfig) error {
		c.TargetChannelID = target
		c.Enabled = true
		return nil
	})
	if err != nil {
		return stateFailure(err)
	}
	return ok(fmt.Sprintf("Giveaway posts will be sent to <#%s>.", target))
}

func (s *Service) start(ctx context.Context, req Request) Result {
	cfg, err := s.Store.Upsert(ctx, req.ChannelID, func(c *models.ChannelConfig) error {
		c.Enabled = true
		return nil
	})
	if err != nil {
		return stateFailure(err)
	}
	return ok(fmt.Sprintf("Bot activity started. Giveaways will be posted to <#%s>.", cfg.Target()))
}

var errNotActive = errors.New("not active")

func (s *Service) stop(ctx context.Context, req Request) Result {
	cfg, err := s.Store.Update(ctx, req.ChannelID, func(c *models.ChannelConfig) error {
		if !c.Enabled {
			return errNotActive
		}
		c.Enabled = false
		return nil
	})
	switch {
	case errors.Is(err, database.ErrChannelNotFound), errors.Is(err, errNotActive):
		return ok("This channel is not currently active.")
	case err != nil:
		return stateFailure(err)
	}
	return ok(fmt.Sprintf("Bot activity stopped for <#%s>.", cfg.Target()))
}

func (s *Service) clear(ctx context.Context, req Request) Result {
	cfg, found, err := s.Store.Get(ctx, req.ChannelID)
	if err != nil {
		return stateFailure(err)
	}
	if !found {
		return failf("No channel configured. Use /setchannel first.")
	}

	rep, err := s.Sweeper.Clear(ctx, req.ChannelID)
	if err != nil {
		return stateFailure(err)
	}
	msg := fmt.Sprintf("Cleared %d message(s) from <#%s>.", rep.Deleted+rep.AlreadyGone, cfg.Target())
	if n := len(rep.Errors); n > 0 {
		msg += fmt.Sprintf(" %d could not be deleted and were forgotten.", n)
	}
	return ok(msg)
}

func (s *Service) helpText() string {
	return fmt.Sprintf(`Commands:
• /preview [url] - Show what the scraper finds (per-channel 1/day).
• /help - Show this message.

Admin-only (Manage Server):
• /setchannel [channel] - Set the channel to receive giveaway posts.
• /start - Start bot activity in this channel.
• /stop - Stop bot activity in this channel.
• /scan - Manually scan now (per-channel 1/day).
• /clear - Delete the bot's giveaway posts for this channel.

Background jobs: scan every %s, cleanup every %s.`,
		formatEvery(time.Duration(s.Config.Scan.IntervalMinutes)*time.Minute),
		formatEvery(time.Duration(s.Config.Cleanup.IntervalHours)*time.Hour))
}

func formatEvery(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		if n := int(d / (24 * time.Hour)); n != 1 {
			return fmt.Sprintf("%d days", n)
		}
		return "24 hours"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}

func ok(msg string) Result { return Result{Status: StatusOK, Message: msg} }

func failf(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

func stateFailure(err error) Result {
	if database.IsPersistenceError(err) {
		return failf("Could not save channel state, nothing was changed. Please try again later.")
	}
	return failf("Internal error: %v", err)
}
