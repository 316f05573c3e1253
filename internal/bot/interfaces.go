package bot

import (
	"context"

	"github.com/whoson/whosonbot/internal/store"
)

// Reconciler is the slice of the reconciliation engine the command layer
// drives. Interfaces let command handlers be tested against fakes.
type Reconciler interface {
	// SweepGuild reconciles one guild now. Returns engine.ErrSweepInProgress
	// when a sweep for the guild is already running.
	SweepGuild(ctx context.Context, guildID string) error
	// RemoveServer removes one tracked server and tears down its channels.
	RemoveServer(ctx context.Context, guildID, serverID string) (*store.TrackedServer, error)
	// Cleanup removes every tracked server in a guild and the tracking
	// category, returning how many servers were removed.
	Cleanup(ctx context.Context, guildID string) (int, error)
	// DropGuildState discards a guild's stored configuration without
	// touching the platform.
	DropGuildState(guildID string) error
	// PermissionWarnings returns and clears permission failures recorded
	// for a guild since the last check.
	PermissionWarnings(guildID string) []string
	// ReapplyPermissions re-applies the connect-deny overwrite on every
	// tracked voice channel in a guild.
	ReapplyPermissions(ctx context.Context, guildID string) (fixed, failed []string)
}

// ServerStore is the slice of the store the command layer reads and adds
// through. Removal goes through the Reconciler so channels are torn down.
type ServerStore interface {
	AddServer(guildID string, srv *store.TrackedServer) (*store.TrackedServer, error)
	Guild(guildID string) (*store.GuildConfig, bool)
}
