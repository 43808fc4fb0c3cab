package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"giveaway-bot/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults for every recognised key. Registering them also lets AutomaticEnv
// resolve the matching environment variables during Unmarshal.
var defaults = map[string]any{
	"bot.token":              "",
	"bot.adminChannelId":     "",
	"bot.scanAtStartup":      false,
	"scan.intervalMinutes":   1440,
	"scan.sourcesFile":       "sources.json",
	"scan.postsPerSecond":    0.8,
	"cleanup.intervalHours":  24,
	"cleanup.retentionHours": 24,
	"cleanup.checkExpiry":    true,
	"state.dbPath":           "data/state.db",
	"fetch.timeoutSeconds":   20,
	"fetch.attempts":         3,
	"fetch.userAgent":        "giveaway-bot/1.0",
	"log.level":              "info",

	"commands.auth.developers":  []string{},
	"commands.auth.adminsRoles": []string{},
}

// Environment names kept from the original deployment, checked in order.
var envAliases = map[string][]string{
	"bot.token":            {"BOT_TOKEN", "DISCORD_TOKEN"},
	"bot.adminChannelId":   {"BOT_ADMINCHANNELID", "ADMIN_CHANNEL_ID"},
	"scan.intervalMinutes": {"SCAN_INTERVAL_MINUTES"},
	"scan.sourcesFile":     {"SOURCES_FILE"},
	"state.dbPath":         {"STATE_FILE", "STATE_DB"},
	"log.level":            {"LOG_LEVEL"},
}

// LoadConfig loads configuration from, in increasing priority:
// 1. built-in defaults
// 2. config.yaml in the working directory
// 3. environment variables (a .env file is loaded into the environment first)
func LoadConfig() (models.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping.")
	}

	v := viper.GetViper()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return models.Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return models.Config{}, fmt.Errorf("parse config.yaml: %w", err)
		}
		log.Printf("No config.yaml found, using environment variables and defaults.")
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	normalize(&cfg)

	if cfg.Bot.Token == "" {
		return cfg, errors.New("no bot token provided, set BOT_TOKEN in .env or config.yaml")
	}
	return cfg, nil
}

// normalize replaces nonsensical values with defaults.
func normalize(cfg *models.Config) {
	if cfg.Scan.IntervalMinutes <= 0 {
		cfg.Scan.IntervalMinutes = 1440
	}
	if cfg.Scan.PostsPerSecond <= 0 {
		cfg.Scan.PostsPerSecond = 0.8
	}
	if cfg.Cleanup.IntervalHours <= 0 {
		cfg.Cleanup.IntervalHours = 24
	}
	if cfg.Cleanup.RetentionHours < 0 {
		cfg.Cleanup.RetentionHours = 24
	}
	if cfg.Fetch.TimeoutSeconds <= 0 {
		cfg.Fetch.TimeoutSeconds = 20
	}
	if cfg.Fetch.Attempts <= 0 {
		cfg.Fetch.Attempts = 1
	}
	if cfg.State.DBPath == "" {
		cfg.State.DBPath = "data/state.db"
	}
	cfg.Bot.Token = strings.TrimPrefix(strings.TrimSpace(cfg.Bot.Token), "Bot ")
}
