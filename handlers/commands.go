package handlers

import (
	"context"

	"giveaway-bot/bot"
	"giveaway-bot/service"
	"giveaway-bot/utils"

	"github.com/bwmarrin/discordgo"
)

// commandPermissions maps each command to the level required to run it.
var commandPermissions = map[string]string{
	string(service.KindSetChannel): utils.LevelAdmin,
	string(service.KindStart):      utils.LevelAdmin,
	string(service.KindStop):       utils.LevelAdmin,
	string(service.KindScan):       utils.LevelAdmin,
	string(service.KindClear):      utils.LevelAdmin,
	string(service.KindPreview):    utils.LevelGuest,
	string(service.KindHelp):       utils.LevelGuest,
}

// CommandDispatcher is the central handler for all application command interactions.
// It performs permission checks, acknowledges the interaction and runs the command
// in the background, answering with an ephemeral followup.
func CommandDispatcher(b *bot.Bot) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		commandName := i.ApplicationCommandData().Name
		requiredLevel, ok := commandPermissions[commandName]
		if !ok {
			respondEphemeral(b, s, i, "🚫 Internal error: unknown command.")
			return
		}

		if !b.Auth.CheckPermission(i.Member, requiredLevel) {
			respondEphemeral(b, s, i, "🚫 You do not have permission to run this command.")
			return
		}

		req, errMsg := buildRequest(i)
		if errMsg != "" {
			respondEphemeral(b, s, i, errMsg)
			return
		}

		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		})
		if err != nil {
			b.Logger.Error().Err(err).Str("command", commandName).Msg("Failed to acknowledge interaction")
			return
		}

		// Run the command in a goroutine.
		go func() {
			res := b.Service.Dispatch(context.Background(), req)
			_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
				Content:         replyContent(res),
				Flags:           discordgo.MessageFlagsEphemeral,
				AllowedMentions: &discordgo.MessageAllowedMentions{},
			})
			if err != nil {
				b.Logger.Error().Err(err).Str("command", commandName).Msg("Failed to send followup")
			}
		}()
	}
}

func respondEphemeral(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.Logger.Error().Err(err).Msg("Failed to respond to interaction")
	}
}
