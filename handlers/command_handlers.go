package handlers

import (
	"strings"

	"giveaway-bot/service"

	"github.com/bwmarrin/discordgo"
)

// buildRequest turns an interaction into a service request. A non-empty second
// value is a message for the user explaining why the command cannot run here.
func buildRequest(i *discordgo.InteractionCreate) (service.Request, string) {
	data := i.ApplicationCommandData()
	req := service.Request{
		Kind:      service.Kind(data.Name),
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	if i.Member != nil && i.Member.User != nil {
		req.ActorID = i.Member.User.ID
	} else if i.User != nil {
		req.ActorID = i.User.ID
	}

	if req.Kind != service.KindHelp && i.GuildID == "" {
		return req, "Use this command in a server text channel."
	}

	for _, opt := range data.Options {
		switch opt.Name {
		case "channel":
			if id, ok := opt.Value.(string); ok {
				req.TargetID = id
			}
		case "url":
			req.URL = strings.TrimSpace(opt.StringValue())
		}
	}
	return req, ""
}

// replyContent renders a result for the invoking user.
func replyContent(res service.Result) string {
	switch res.Status {
	case service.StatusRateLimited:
		return "⏳ " + res.Message
	case service.StatusError:
		return "⚠️ " + res.Message
	default:
		return res.Message
	}
}
