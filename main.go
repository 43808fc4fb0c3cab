package main

import (
	"giveaway-bot/bot"
	"giveaway-bot/command"
	"giveaway-bot/handlers"
)

func main() {
	bot.Run(handlers.Register, command.GetCommandDefinitions())
}
