package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whosonbot/internal/engine"
	"github.com/whoson/whosonbot/internal/store"
)

// commandDefinitions are the slash commands registered per guild.
var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        "add",
		Description: "Track a Minecraft server in this guild",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "address",
				Description: "Server address as host or host:port",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "nickname",
				Description: "Display name for the server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "type",
				Description: "Server edition",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "auto", Value: "auto"},
					{Name: "java", Value: "java"},
					{Name: "bedrock", Value: "bedrock"},
				},
			},
		},
	},
	{
		Name:        "remove",
		Description: "Stop tracking a server and delete its channels",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionString,
				Name:         "server",
				Description:  "Nickname or address of the tracked server",
				Required:     true,
				Autocomplete: true,
			},
		},
	},
	{
		Name:        "list",
		Description: "List the servers tracked in this guild",
	},
	{
		Name:        "update",
		Description: "Refresh all tracked servers now",
	},
	{
		Name:        "permissions",
		Description: "Check the bot's permissions and recent permission failures",
	},
	{
		Name:        "cleanup",
		Description: "Remove all tracked servers and their channels from this guild",
	},
}

// parseServerType maps the command option onto a stored type.
func parseServerType(value string) (store.ServerType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return store.TypeAuto, nil
	case "java":
		return store.TypeJava, nil
	case "bedrock":
		return store.TypeBedrock, nil
	default:
		return "", ErrInvalidServerType
	}
}

// addServer validates the input, records the server, and runs an immediate
// sweep so the channels appear without waiting for the next cycle.
func addServer(ctx context.Context, st ServerStore, rec Reconciler, validator *InputValidator, guildID, target, nickname, typeOption string) (string, error) {
	target = validator.SanitizeInput(target)
	nickname = validator.SanitizeInput(nickname)

	address, port, err := store.ParseTarget(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if err := validator.ValidateAddress(address); err != nil {
		return "", err
	}
	if err := validator.ValidateNickname(nickname); err != nil {
		return "", err
	}
	declaredType, err := parseServerType(typeOption)
	if err != nil {
		return "", err
	}

	srv, err := st.AddServer(guildID, &store.TrackedServer{
		Address:      address,
		Port:         port,
		Nickname:     nickname,
		DeclaredType: declaredType,
	})
	if err != nil {
		return "", err
	}

	// A concurrent sweep already covers the new server on its next pass.
	if err := rec.SweepGuild(ctx, guildID); err != nil && !errors.Is(err, engine.ErrSweepInProgress) {
		return "", err
	}

	msg := fmt.Sprintf("Now tracking **%s** (`%s`).", srv.DisplayName(), srv.Target())
	if cfg, ok := st.Guild(guildID); ok {
		if tracked := cfg.FindServer(srv.ID); tracked != nil &&
			(tracked.LastStatus == nil || !tracked.LastStatus.Online) {
			msg += " The server did not respond to the first check and will show as offline until it is reachable."
		}
	}
	return msg, nil
}

// findServer matches a tracked server by nickname or address, case
// insensitively.
func findServer(st ServerStore, guildID, query string) (*store.TrackedServer, error) {
	cfg, ok := st.Guild(guildID)
	if !ok {
		return nil, store.ErrGuildNotFound
	}
	for _, srv := range cfg.Servers {
		if strings.EqualFold(srv.Nickname, query) ||
			strings.EqualFold(srv.Target(), query) ||
			strings.EqualFold(srv.Address, query) {
			return srv, nil
		}
	}
	return nil, store.ErrServerNotFound
}

// serverChoices builds autocomplete suggestions for the remove command,
// filtering the guild's tracked servers by a case-insensitive substring of
// the nickname or address. Discord caps a response at 25 choices and a
// choice name at 100 characters.
func serverChoices(st ServerStore, guildID, partial string) []*discordgo.ApplicationCommandOptionChoice {
	cfg, ok := st.Guild(guildID)
	if !ok {
		return nil
	}

	partial = strings.ToLower(strings.TrimSpace(partial))
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		if partial != "" &&
			!strings.Contains(strings.ToLower(srv.DisplayName()), partial) &&
			!strings.Contains(strings.ToLower(srv.Target()), partial) {
			continue
		}
		name := srv.DisplayName()
		if srv.Nickname != "" {
			name = fmt.Sprintf("%s (%s)", srv.Nickname, srv.Target())
		}
		if runes := []rune(name); len(runes) > 100 {
			name = string(runes[:100])
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  name,
			Value: srv.Target(),
		})
		if len(choices) == 25 {
			break
		}
	}
	return choices
}

// removeServer resolves the query to a tracked server and removes it along
// with its channels.
func removeServer(ctx context.Context, st ServerStore, rec Reconciler, validator *InputValidator, guildID, query string) (string, error) {
	query = validator.SanitizeInput(query)
	srv, err := findServer(st, guildID, query)
	if err != nil {
		return "", err
	}

	removed, err := rec.RemoveServer(ctx, guildID, srv.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Stopped tracking **%s** (`%s`).", removed.DisplayName(), removed.Target()), nil
}

// listServers renders the guild's tracked servers with their last observed
// state.
func listServers(st ServerStore, guildID string) string {
	cfg, ok := st.Guild(guildID)
	if !ok || len(cfg.Servers) == 0 {
		return "No servers are tracked in this guild. Use `/add` to track one."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Tracking %d server(s):\n", len(cfg.Servers)))
	for _, srv := range cfg.Servers {
		indicator := "🔴"
		counts := "0/0"
		if last := srv.LastStatus; last != nil && last.Online {
			indicator = "🟢"
			counts = fmt.Sprintf("%d/%d", last.Players, last.MaxPlayers)
		}
		edition := string(srv.ResolvedType)
		if edition == "" || edition == string(store.TypeUnknown) {
			edition = string(srv.DeclaredType)
		}
		b.WriteString(fmt.Sprintf("%s **%s** — `%s` (%s) %s players\n",
			indicator, srv.DisplayName(), srv.Target(), edition, counts))
	}
	return b.String()
}

// updateNow triggers an immediate sweep for the guild.
func updateNow(ctx context.Context, rec Reconciler, guildID string) string {
	if err := rec.SweepGuild(ctx, guildID); err != nil {
		return ErrorToUserMessage(err)
	}
	return "All tracked servers refreshed."
}

// permissionsReport summarizes missing permissions and failures the engine
// recorded, then re-applies the voice channel overwrites so a fixed role
// takes effect without waiting for channel recreation.
func permissionsReport(ctx context.Context, rec Reconciler, guildID, applicationID string, appPermissions int64) string {
	var b strings.Builder

	missing := MissingPermissions(appPermissions)
	if len(missing) == 0 {
		b.WriteString("All required permissions are granted here.\n")
	} else {
		b.WriteString("Missing permissions: **" + strings.Join(missing, "**, **") + "**\n")
		b.WriteString("Re-invite the bot with the full permission set: " + InviteURL(applicationID) + "\n")
	}

	if warnings := rec.PermissionWarnings(guildID); len(warnings) > 0 {
		b.WriteString("\nRecent permission failures:\n")
		for _, w := range warnings {
			b.WriteString("• " + w + "\n")
		}
	}

	fixed, failed := rec.ReapplyPermissions(ctx, guildID)
	if len(fixed)+len(failed) > 0 {
		b.WriteString(fmt.Sprintf("\nRe-applied voice channel overwrites: %d ok, %d failed.\n", len(fixed), len(failed)))
		for _, name := range failed {
			b.WriteString("• failed: " + name + "\n")
		}
	}
	return b.String()
}

// cleanupGuild removes all tracked servers and their channels.
func cleanupGuild(ctx context.Context, rec Reconciler, guildID string) string {
	count, err := rec.Cleanup(ctx, guildID)
	if err != nil {
		if errors.Is(err, store.ErrGuildNotFound) {
			return "Nothing to clean up: no servers are tracked in this guild."
		}
		return ErrorToUserMessage(err)
	}
	return fmt.Sprintf("Removed %d tracked server(s) and their channels.", count)
}
