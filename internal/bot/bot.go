// Package bot wires the Discord session, slash commands, and the
// reconciliation engine together.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/whoson/whosonbot/internal/config"
	"github.com/whoson/whosonbot/internal/engine"
	"github.com/whoson/whosonbot/internal/platform"
	"github.com/whoson/whosonbot/internal/resolver"
	"github.com/whoson/whosonbot/internal/store"
)

// interactionTimeout bounds how long one command is allowed to run. Sweeps
// dominate this: every probe inside is individually time-boxed.
const interactionTimeout = 60 * time.Second

// Bot is the Discord bot instance with its dependencies injected.
type Bot struct {
	config    *config.BotConfig
	logger    *logrus.Logger
	session   *discordgo.Session
	store     ServerStore
	engine    Reconciler
	validator *InputValidator

	ctx    context.Context
	cancel context.CancelFunc
}

// BotOptions contains the dependencies for a bot instance. Nil Logger and
// Validator get defaults.
type BotOptions struct {
	Config    *config.BotConfig
	Logger    *logrus.Logger
	Session   *discordgo.Session
	Store     ServerStore
	Engine    Reconciler
	Validator *InputValidator
}

// New creates a bot instance from explicit dependencies.
func New(opts BotOptions) (*Bot, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Validator == nil {
		opts.Validator = NewInputValidator()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config:    opts.Config,
		logger:    opts.Logger,
		session:   opts.Session,
		store:     opts.Store,
		engine:    opts.Engine,
		validator: opts.Validator,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// NewFromConfig builds the full dependency graph: session, store, resolver,
// gateway, and engine.
func NewFromConfig(cfg *config.BotConfig, logger *logrus.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds

	fileStore, err := store.NewFileStore(cfg.Store.File)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}

	res := resolver.New(resolver.NetworkProber{}, cfg.Monitor.ProbeTimeout())
	gateway := platform.NewDiscordGateway(session)
	eng := engine.New(fileStore, gateway, res, logger, engine.Config{
		CategoryName: cfg.Monitor.CategoryName,
		PollInterval: cfg.Monitor.PollInterval(),
	})

	return New(BotOptions{
		Config:  cfg,
		Logger:  logger,
		Session: session,
		Store:   fileStore,
		Engine:  eng,
	})
}

// Start opens the gateway connection, registers the slash commands, and
// launches the reconciliation loop. It returns once the bot is running.
func (b *Bot) Start() error {
	b.logger.Info("Starting WhosOn Discord bot")

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onGuildDelete)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}

	if _, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefinitions); err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.logger.WithField("commands", len(commandDefinitions)).Info("Slash commands registered")

	if starter, ok := b.engine.(interface{ Start(context.Context) }); ok {
		starter.Start(b.ctx)
	}

	b.logger.Info("WhosOn Discord bot started successfully")
	return nil
}

// Stop gracefully stops the bot: the reconciliation loop first, then the
// gateway connection.
func (b *Bot) Stop() error {
	b.logger.Info("Initiating graceful shutdown")
	b.cancel()

	if stopper, ok := b.engine.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	if err := b.session.Close(); err != nil {
		b.logger.WithError(err).Error("Error closing discord session")
		return err
	}

	b.logger.Info("Bot stopped successfully")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.WithFields(logrus.Fields{
		"username": r.User.Username,
		"guilds":   len(r.Guilds),
	}).Info("Discord gateway ready")
}

// onGuildDelete drops a departed guild's stored state. Channels need no
// teardown: removal from the guild already revoked access to them.
func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// An outage, not a removal.
		return
	}
	if err := b.engine.DropGuildState(g.ID); err != nil {
		b.logger.WithError(err).WithField("guild", g.ID).Error("Dropping departed guild state failed")
		return
	}
	b.logger.WithField("guild", g.ID).Info("Dropped state for departed guild")
}

// onInteractionCreate dispatches slash commands. Every command replies
// ephemerally via a deferred response, since sweeps can outlast the 3s
// initial-response window.
func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
		b.respondAutocomplete(s, i)
		return
	}
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.WithError(err).Error("Acknowledging interaction failed")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, interactionTimeout)
	defer cancel()

	content := b.dispatch(ctx, i)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.WithError(err).Error("Sending interaction reply failed")
	}
}

// respondAutocomplete suggests tracked servers while the user types the
// remove command's server option.
func (b *Bot) respondAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "remove" || i.GuildID == "" {
		return
	}

	var partial string
	for _, opt := range data.Options {
		if opt.Focused && opt.Name == "server" {
			partial = opt.StringValue()
			break
		}
	}

	choices := serverChoices(b.store, i.GuildID, partial)
	if choices == nil {
		// Discord rejects an autocomplete response without a choices array.
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		b.logger.WithError(err).Error("Sending autocomplete choices failed")
	}
}

// dispatch runs one slash command and returns the reply content.
func (b *Bot) dispatch(ctx context.Context, i *discordgo.InteractionCreate) string {
	if i.GuildID == "" {
		return "WhosOn commands only work inside a guild."
	}

	data := i.ApplicationCommandData()
	options := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			options[opt.Name] = opt.StringValue()
		}
	}

	log := b.logger.WithFields(logrus.Fields{
		"guild":   i.GuildID,
		"command": data.Name,
	})
	log.Info("Processing command")

	var (
		content string
		err     error
	)
	switch data.Name {
	case "add":
		if missing := MissingPermissions(i.AppPermissions); len(missing) > 0 {
			return "The bot is missing required permissions here. Run `/permissions` for details."
		}
		content, err = addServer(ctx, b.store, b.engine, b.validator, i.GuildID,
			options["address"], options["nickname"], options["type"])
	case "remove":
		content, err = removeServer(ctx, b.store, b.engine, b.validator, i.GuildID, options["server"])
	case "list":
		content = listServers(b.store, i.GuildID)
	case "update":
		content = updateNow(ctx, b.engine, i.GuildID)
	case "permissions":
		content = permissionsReport(ctx, b.engine, i.GuildID, b.session.State.User.ID, i.AppPermissions)
	case "cleanup":
		content = cleanupGuild(ctx, b.engine, i.GuildID)
	default:
		content = "Unknown command."
	}

	if err != nil {
		log.WithError(err).Warn("Command failed")
		return ErrorToUserMessage(err)
	}
	return content
}
