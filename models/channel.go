package models

import (
	"errors"
	"time"
)

// ErrMessageNotFound is returned by the chat client when a message (or its channel)
// no longer exists.
var ErrMessageNotFound = errors.New("message not found")

// PostedLink is one entry of a channel's dedup ledger.
type PostedLink struct {
	URL             string    `json:"url"`
	MessageID       string    `json:"message_id"`
	TargetChannelID string    `json:"target_channel_id"` // where the message was sent
	PostedAt        time.Time `json:"posted_at"`
}

// ChannelMessage is a message the bot finds in a channel's history.
type ChannelMessage struct {
	ID        string
	Content   string
	Timestamp time.Time
}

// ChannelConfig is the persisted state of one configured Discord channel.
type ChannelConfig struct {
	ChannelID       string       `json:"channel_id"`
	TargetChannelID string       `json:"target_channel_id"`
	Enabled         bool         `json:"enabled"`
	LastScanDate    time.Time    `json:"last_scan_date"`    // zero when never used
	LastPreviewDate time.Time    `json:"last_preview_date"` // zero when never used
	PostedLinks     []PostedLink `json:"posted_links"`
}

// NewChannelConfig returns the default record for a channel that posts into itself.
func NewChannelConfig(channelID string) *ChannelConfig {
	return &ChannelConfig{
		ChannelID:       channelID,
		TargetChannelID: channelID,
	}
}

// Target returns the channel posts are sent to.
func (c *ChannelConfig) Target() string {
	if c.TargetChannelID != "" {
		return c.TargetChannelID
	}
	return c.ChannelID
}

// FindPost returns the ledger entry for url, if any.
func (c *ChannelConfig) FindPost(url string) (PostedLink, bool) {
	for _, p := range c.PostedLinks {
		if p.URL == url {
			return p, true
		}
	}
	return PostedLink{}, false
}

// HasPost reports whether url is already in the ledger.
func (c *ChannelConfig) HasPost(url string) bool {
	_, ok := c.FindPost(url)
	return ok
}

// AddPost appends an entry, keeping PostedAt non-decreasing. It reports false when
// the url is already present.
func (c *ChannelConfig) AddPost(p PostedLink) bool {
	if c.HasPost(p.URL) {
		return false
	}
	if n := len(c.PostedLinks); n > 0 && p.PostedAt.Before(c.PostedLinks[n-1].PostedAt) {
		p.PostedAt = c.PostedLinks[n-1].PostedAt
	}
	c.PostedLinks = append(c.PostedLinks, p)
	return true
}

// RemovePost drops the entry for url and reports whether one was removed.
func (c *ChannelConfig) RemovePost(url string) bool {
	for i, p := range c.PostedLinks {
		if p.URL == url {
			c.PostedLinks = append(c.PostedLinks[:i], c.PostedLinks[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the store.
func (c *ChannelConfig) Clone() *ChannelConfig {
	cp := *c
	cp.PostedLinks = append([]PostedLink(nil), c.PostedLinks...)
	return &cp
}
