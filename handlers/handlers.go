package handlers

import (
	"giveaway-bot/bot"

	"github.com/bwmarrin/discordgo"
)

// Register all handlers to the bot.
func Register(b *bot.Bot) {
	b.Session.AddHandler(InteractionCreate(b))

	// Add a ready handler to log when the bot is connected.
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.Logger.Info().
			Str("user", s.State.User.Username).
			Int("guilds", len(r.Guilds)).
			Msg("Logged in")
	})
}
