package command

import "github.com/bwmarrin/discordgo"

var guildOnly = false

// SetChannelCommand defines the structure for the /setchannel command.
type SetChannelCommand struct{}

// Definition returns the application command definition.
func (c *SetChannelCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "setchannel",
		Description:  "Set the channel that receives giveaway posts for this channel",
		DMPermission: &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:         "channel",
				Description:  "Where to post (defaults to this channel)",
				Type:         discordgo.ApplicationCommandOptionChannel,
				Required:     false,
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
			},
		},
	}
}

// StartCommand defines the structure for the /start command.
type StartCommand struct{}

// Definition returns the application command definition.
func (c *StartCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "start",
		Description:  "Start the bot's activity in this channel",
		DMPermission: &guildOnly,
	}
}

// StopCommand defines the structure for the /stop command.
type StopCommand struct{}

// Definition returns the application command definition.
func (c *StopCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "stop",
		Description:  "Stop the bot's activity in this channel",
		DMPermission: &guildOnly,
	}
}

// ScanCommand defines the structure for the /scan command.
type ScanCommand struct{}

// Definition returns the application command definition.
func (c *ScanCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "scan",
		Description:  "Trigger an immediate giveaway scan in this channel (once per day)",
		DMPermission: &guildOnly,
	}
}

// ClearCommand defines the structure for the /clear command.
type ClearCommand struct{}

// Definition returns the application command definition.
func (c *ClearCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "clear",
		Description:  "Delete every giveaway post this bot made for this channel",
		DMPermission: &guildOnly,
	}
}

// PreviewCommand defines the structure for the /preview command.
type PreviewCommand struct{}

// Definition returns the application command definition.
func (c *PreviewCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:         "preview",
		Description:  "Show what the scraper finds without posting (once per day)",
		DMPermission: &guildOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "url",
				Description: "Optional URL; defaults to the configured sources",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    false,
			},
		},
	}
}

// HelpCommand defines the structure for the /help command.
type HelpCommand struct{}

// Definition returns the application command definition.
func (c *HelpCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "help",
		Description: "Show available commands for this bot",
	}
}
