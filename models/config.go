package models

// Config is the fully resolved runtime configuration.
// It is unmarshalled from viper, so keys follow config.yaml.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	State    StateConfig    `mapstructure:"state"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Log      LogConfig      `mapstructure:"log"`
	Commands CommandsConfig `mapstructure:"commands"`
}

// BotConfig holds the Discord connection settings.
type BotConfig struct {
	Token          string `mapstructure:"token"`
	AdminChannelID string `mapstructure:"adminchannelid"`
	ScanAtStartup  bool   `mapstructure:"scanatstartup"`
}

// ScanConfig controls the background scan loop and posting.
type ScanConfig struct {
	IntervalMinutes int     `mapstructure:"intervalminutes"`
	SourcesFile     string  `mapstructure:"sourcesfile"`
	PostsPerSecond  float64 `mapstructure:"postspersecond"`
}

// CleanupConfig controls the cleanup sweeper.
type CleanupConfig struct {
	IntervalHours  int  `mapstructure:"intervalhours"`
	RetentionHours int  `mapstructure:"retentionhours"`
	CheckExpiry    bool `mapstructure:"checkexpiry"`
}

// StateConfig points at the durable channel state.
type StateConfig struct {
	DBPath string `mapstructure:"dbpath"`
}

// FetchConfig controls source page retrieval.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeoutseconds"`
	Attempts       int    `mapstructure:"attempts"`
	UserAgent      string `mapstructure:"useragent"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CommandsConfig holds command authorization settings.
type CommandsConfig struct {
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig lists users and roles with elevated access.
type AuthConfig struct {
	Developers  []string `mapstructure:"developers"`
	AdminsRoles []string `mapstructure:"adminsroles"`
}
