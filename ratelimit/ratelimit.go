// Package ratelimit decides whether a per-channel daily manual action may run.
// Days are UTC calendar dates; the quota resets at 00:00 UTC.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"giveaway-bot/models"
)

// ErrRateLimited is matched by every DeniedError.
var ErrRateLimited = errors.New("rate limited")

// DeniedError reports a refused action and how long until it is allowed again.
type DeniedError struct {
	Action     models.Action
	ChannelID  string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s already used today in channel %s, retry in %s", e.Action, e.ChannelID, e.RetryAfter)
}

func (e *DeniedError) Is(target error) bool { return target == ErrRateLimited }

// Today returns the UTC calendar date of now at midnight.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LastUsed returns the stored date of the last manual use of action.
func LastUsed(cfg *models.ChannelConfig, action models.Action) time.Time {
	if cfg == nil {
		return time.Time{}
	}
	switch action {
	case models.ActionScan:
		return cfg.LastScanDate
	case models.ActionPreview:
		return cfg.LastPreviewDate
	}
	return time.Time{}
}

// Allowed reports whether action may run now: never used, or last used strictly
// before today (UTC).
func Allowed(cfg *models.ChannelConfig, action models.Action, now time.Time) bool {
	last := LastUsed(cfg, action)
	if last.IsZero() {
		return true
	}
	return Today(last).Before(Today(now))
}

// Check returns nil when allowed and a *DeniedError otherwise.
func Check(cfg *models.ChannelConfig, action models.Action, now time.Time) error {
	if Allowed(cfg, action, now) {
		return nil
	}
	id := ""
	if cfg != nil {
		id = cfg.ChannelID
	}
	return &DeniedError{Action: action, ChannelID: id, RetryAfter: UntilReset(now)}
}

// MarkUsed records today's use of action on cfg.
func MarkUsed(cfg *models.ChannelConfig, action models.Action, now time.Time) {
	switch action {
	case models.ActionScan:
		cfg.LastScanDate = Today(now)
	case models.ActionPreview:
		cfg.LastPreviewDate = Today(now)
	}
}

// UntilReset is the time left until the next UTC midnight.
func UntilReset(now time.Time) time.Duration {
	return Today(now).AddDate(0, 0, 1).Sub(now.UTC())
}
