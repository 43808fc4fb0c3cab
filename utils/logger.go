package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

const consoleTimeFormat = time.RFC3339

// EmbedSender is the part of a Discord session the admin log sink needs.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewLogger builds the process logger: console output at the configured level,
// mirrored into the admin channel sink when one is given.
func NewLogger(level string, sink *AdminSink) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	if sink != nil {
		w = zerolog.MultiLevelWriter(w, sink)
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// AdminSink mirrors warnings and errors into a Discord channel as embeds.
// It is inert until Attach is called and never blocks the caller.
type AdminSink struct {
	mu        sync.Mutex
	sender    EmbedSender
	channelID string
	minLevel  zerolog.Level
	limiter   *rate.Limiter

	queue  chan *discordgo.MessageEmbed
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdminSink creates a sink that forwards at most perMinute embeds per minute.
func NewAdminSink(perMinute int) *AdminSink {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &AdminSink{
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		queue:    make(chan *discordgo.MessageEmbed, 64),
	}
}

// Attach starts forwarding to channelID. An empty channelID leaves the sink off.
func (a *AdminSink) Attach(sender EmbedSender, channelID string) {
	if channelID == "" {
		fmt.Fprintln(os.Stderr, "Warning: bot.adminChannelId is not set. Logging to channel will be disabled.")
		return
	}
	a.mu.Lock()
	a.sender = sender
	a.channelID = channelID
	a.mu.Unlock()

	a.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.worker(ctx)
		}()
	})
}

// Close stops the forwarding worker.
func (a *AdminSink) Close() {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
}

func (a *AdminSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (a *AdminSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	active := a.sender != nil && a.channelID != ""
	a.mu.Unlock()

	if !active || level < a.minLevel || !a.limiter.Allow() {
		return len(p), nil
	}

	select {
	case a.queue <- buildEmbed(level, p):
	default:
	}
	return len(p), nil
}

func (a *AdminSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case embed := <-a.queue:
			a.mu.Lock()
			sender, channelID := a.sender, a.channelID
			a.mu.Unlock()
			if _, err := sender.ChannelMessageSendEmbed(channelID, embed); err != nil {
				fmt.Fprintf(os.Stderr, "Error sending log message to Discord: %v\n", err)
			}
		}
	}
}

// buildEmbed turns one zerolog JSON line into an admin-channel embed.
func buildEmbed(level zerolog.Level, p []byte) *discordgo.MessageEmbed {
	color := ColorInfo
	switch {
	case level >= zerolog.ErrorLevel:
		color = ColorError
	case level == zerolog.WarnLevel:
		color = ColorWarn
	}

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", strings.ToUpper(level.String())),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		embed.Description = truncate(strings.TrimSpace(string(p)), 2000)
		return embed
	}

	msg, _ := m[zerolog.MessageFieldName].(string)
	embed.Description = truncate(msg, 2000)

	module, _ := m["module"].(string)
	if module == "" {
		module = "-"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Module", Value: module, Inline: true})

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "module":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var details strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&details, "%s=%v\n", k, m[k])
	}
	if details.Len() > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Details",
			Value: truncate(strings.TrimSpace(details.String()), 1000),
		})
	}
	return embed
}

// truncate cuts s to at most maxN runes.
func truncate(s string, maxN int) string {
	r := []rune(s)
	if len(r) <= maxN {
		return s
	}
	return string(r[:maxN-3]) + "..."
}
