package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"giveaway-bot/models"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session to the send/delete/validate calls the scan
// and cleanup engines make.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps a session.
func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

// SendMessage posts content and returns the message id. Mentions are never resolved.
func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// DeleteMessage removes a message, reporting models.ErrMessageNotFound when it or
// its channel no longer exists.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return models.ErrMessageNotFound
	}
	return err
}

// historyPage is the most messages Discord returns per history request.
const historyPage = 100

// RecentOwnMessages pages back through the channel's last limit messages and
// returns the ones this bot wrote, newest first.
func (d *Discord) RecentOwnMessages(ctx context.Context, channelID string, limit int) ([]models.ChannelMessage, error) {
	self := d.selfID()
	if self == "" {
		return nil, errors.New("bot user not known yet")
	}

	var (
		out    []models.ChannelMessage
		before string
	)
	for read := 0; read < limit; {
		n := min(historyPage, limit-read)
		page, err := d.session.ChannelMessages(channelID, n, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			if isNotFound(err) {
				return out, models.ErrMessageNotFound
			}
			return out, fmt.Errorf("read history of %s: %w", channelID, err)
		}
		for _, m := range page {
			if m.Author != nil && m.Author.ID == self {
				out = append(out, models.ChannelMessage{ID: m.ID, Content: m.Content, Timestamp: m.Timestamp})
			}
		}
		read += len(page)
		if len(page) < n {
			break
		}
		before = page[len(page)-1].ID
	}
	return out, nil
}

func (d *Discord) selfID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// ValidateTextChannel checks the channel exists and is a text or announcement channel.
func (d *Discord) ValidateTextChannel(ctx context.Context, channelID string) error {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("channel %s not found", channelID)
		}
		return err
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return nil
	}
	return fmt.Errorf("channel %s is not a text channel", channelID)
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return true
		}
	}
	return false
}
