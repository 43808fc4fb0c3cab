package ratelimit

import (
	"errors"
	"testing"
	"time"

	"giveaway-bot/models"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{"never used", time.Time{}, true},
		{"yesterday", time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC), true},
		{"earlier today", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), false},
		{"later today", time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC), false},
		{"local yesterday is UTC today", time.Date(2025, 3, 9, 22, 0, 0, 0, time.FixedZone("x", -5*3600)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.NewChannelConfig("c1")
			cfg.LastScanDate = tt.last
			assert.Equal(t, tt.want, Allowed(cfg, models.ActionScan, now))
			// preview is tracked independently
			assert.True(t, Allowed(cfg, models.ActionPreview, now))
		})
	}
}

func TestAllowed_NilConfig(t *testing.T) {
	assert.True(t, Allowed(nil, models.ActionScan, time.Now()))
}

func TestMarkUsedThenDeniedUntilMidnight(t *testing.T) {
	cfg := models.NewChannelConfig("c1")
	morning := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	assert.NoError(t, Check(cfg, models.ActionPreview, morning))
	MarkUsed(cfg, models.ActionPreview, morning)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), cfg.LastPreviewDate)

	err := Check(cfg, models.ActionPreview, morning.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrRateLimited))

	var denied *DeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, 15*time.Hour, denied.RetryAfter)
	assert.Equal(t, "c1", denied.ChannelID)

	assert.NoError(t, Check(cfg, models.ActionPreview, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)))
}

func TestUntilReset(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 30, 0, time.UTC)
	assert.Equal(t, 30*time.Second, UntilReset(now))
}
