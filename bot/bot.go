package bot

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"giveaway-bot/cleanup"
	"giveaway-bot/config"
	"giveaway-bot/database"
	"giveaway-bot/fetcher"
	"giveaway-bot/models"
	"giveaway-bot/scanner"
	"giveaway-bot/service"
	"giveaway-bot/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Bot encapsulates the bot's state.
type Bot struct {
	Session   *discordgo.Session
	Config    models.Config
	Service   *service.Service
	Auth      *utils.Auth
	Logger    zerolog.Logger
	Scheduler *Scheduler

	sink     *utils.AdminSink
	commands []*discordgo.ApplicationCommand
}

// NewBot loads configuration and state and wires every component. Nothing
// connects to Discord until Start.
func NewBot() (*Bot, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	sink := utils.NewAdminSink(10)
	logger := utils.NewLogger(cfg.Log.Level, sink)

	dg, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds

	svc, err := newService(cfg, dg, logger)
	if err != nil {
		return nil, err
	}

	sched, err := NewScheduler(svc.Scanner, svc.Sweeper,
		time.Duration(cfg.Scan.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.IntervalHours)*time.Hour,
		logger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	return &Bot{
		Session:   dg,
		Config:    cfg,
		Service:   svc,
		Auth:      utils.NewAuth(cfg.Commands),
		Logger:    logger,
		Scheduler: sched,
		sink:      sink,
	}, nil
}

// newService opens the channel state and builds the scan and cleanup engines
// around the Discord session.
func newService(cfg models.Config, dg *discordgo.Session, logger zerolog.Logger) (*service.Service, error) {
	store, err := database.OpenStore(cfg.State.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open channel state: %w", err)
	}

	sources, err := config.LoadSources(cfg.Scan.SourcesFile)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Scan.SourcesFile).Msg("Could not load sources, continuing with none")
	}
	if len(sources) == 0 {
		logger.Warn().Str("path", cfg.Scan.SourcesFile).Msg("No sources configured")
	} else {
		logger.Info().Int("count", len(sources)).Msg("Sources loaded")
	}

	timeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	fetch := fetcher.New(&http.Client{Timeout: timeout}, fetcher.Options{
		Timeout:   timeout,
		Attempts:  uint(cfg.Fetch.Attempts),
		UserAgent: cfg.Fetch.UserAgent,
	}, logger)

	chat := NewDiscord(dg)
	// one limiter for posts and deletions, they share Discord's per-channel budget
	pace := rate.NewLimiter(rate.Limit(cfg.Scan.PostsPerSecond), 1)
	locks := scanner.NewRunLocks()

	sc := scanner.New(store, fetch, chat, sources, pace, locks, logger)

	var prober cleanup.Prober
	if cfg.Cleanup.CheckExpiry {
		prober = fetch
	}
	sw := cleanup.New(store, chat, prober, locks, pace, cleanup.Options{
		Retention:   time.Duration(cfg.Cleanup.RetentionHours) * time.Hour,
		CheckExpiry: cfg.Cleanup.CheckExpiry,
	}, logger)

	return service.New(cfg, store, sc, sw, chat, logger), nil
}

// RegisterCommands sets the slash commands created on Start.
func (b *Bot) RegisterCommands(commands []*discordgo.ApplicationCommand) {
	b.commands = append(b.commands, commands...)
}

// Start opens the bot's session and registers handlers.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	b.sink.Attach(b.Session, b.Config.Bot.AdminChannelID)

	// Register slash commands
	for _, cmd := range b.commands {
		if _, err := b.Session.ApplicationCommandCreate(b.Session.State.User.ID, "", cmd); err != nil {
			b.Logger.Error().Err(err).Str("command", cmd.Name).Msg("Cannot create command")
		}
	}

	b.Scheduler.Start()
	if b.Config.Bot.ScanAtStartup {
		b.Scheduler.ScanNow()
	} else {
		b.Logger.Info().Msg("Skipping initial scan on startup as per configuration.")
	}

	b.Logger.Info().Msg("Bot is now running. Press CTRL-C to exit.")
	return nil
}

// Stop waits for in-flight jobs and commands, flushes state and closes the session.
func (b *Bot) Stop() {
	b.Scheduler.Stop()
	if err := b.Service.Close(); err != nil {
		b.Logger.Error().Err(err).Msg("Error closing channel state")
	}
	if b.Session != nil {
		b.Session.Close()
	}
	b.Logger.Info().Msg("Bot stopped gracefully.")
	b.sink.Close()
}

// Run is the main entry point for the bot application.
func Run(registerHandlers func(*Bot), commands []*discordgo.ApplicationCommand) {
	bot, err := NewBot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing bot: %v\n", err)
		os.Exit(1)
	}

	bot.RegisterCommands(commands)

	if err := bot.Start(registerHandlers); err != nil {
		bot.Logger.Error().Err(err).Msg("Error starting bot")
		bot.Stop()
		os.Exit(1)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	bot.Stop()
}
