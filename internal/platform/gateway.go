// Package platform wraps the Discord channel/permission mutation surface
// behind a narrow Gateway interface so the reconciliation engine can be
// exercised against fakes, and maps Discord API failures onto the error
// taxonomy the engine's retry policy is written against.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound means the target channel, message, or category no longer
	// exists on the platform.
	ErrNotFound = errors.New("platform object not found")
	// ErrPermissionDenied means the bot lacks the permission for the
	// operation. Not retried; surfaced to guild operators.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient covers network and 5xx failures worth one retry.
	ErrTransient = errors.New("transient platform error")
)

// RateLimitedError reports a 429 with the server-provided retry delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Gateway is the capability surface the reconciliation engine needs from
// the messaging platform. All mutations may fail with ErrNotFound,
// ErrPermissionDenied, *RateLimitedError, or ErrTransient.
type Gateway interface {
	// EnsureCategory finds a category channel by name, creating it when
	// absent, and returns its id. Idempotent by name+type lookup.
	EnsureCategory(ctx context.Context, guildID, name string) (string, error)
	// FindCategory looks a category up by name without creating it,
	// returning "" when absent.
	FindCategory(ctx context.Context, guildID, name string) (string, error)
	// CategoryChannelCount reports how many channels remain under a
	// category.
	CategoryChannelCount(ctx context.Context, guildID, categoryID string) (int, error)

	CreateVoiceChannel(ctx context.Context, guildID, categoryID, name string) (string, error)
	CreateTextChannel(ctx context.Context, guildID, categoryID, name, topic string) (string, error)
	RenameChannel(ctx context.Context, channelID, name string) error
	DeleteChannel(ctx context.Context, channelID string) error

	// DenyConnect applies a permission overwrite on a voice channel that
	// denies the guild's default role the connect capability, keeping the
	// channel visible but unjoinable.
	DenyConnect(ctx context.Context, guildID, channelID string) error

	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error
}

// IsRateLimited extracts the rate limit delay from an error chain.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
