package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// mutationsPerSecond paces channel and message writes well under Discord's
// per-route limits; bursts cover the multi-call provisioning sequence.
const (
	mutationsPerSecond = 2
	mutationBurst      = 4
)

// DiscordGateway implements Gateway on a discordgo session.
type DiscordGateway struct {
	session *discordgo.Session
	limiter *rate.Limiter
}

// NewDiscordGateway wraps a connected session.
func NewDiscordGateway(session *discordgo.Session) *DiscordGateway {
	return &DiscordGateway{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(mutationsPerSecond), mutationBurst),
	}
}

// EnsureCategory finds the named category, creating it when absent.
func (g *DiscordGateway) EnsureCategory(ctx context.Context, guildID, name string) (string, error) {
	if id, err := g.FindCategory(ctx, guildID, name); err != nil || id != "" {
		return id, err
	}

	if err := g.wait(ctx); err != nil {
		return "", err
	}
	category, err := g.session.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildCategory)
	if err != nil {
		return "", mapError(err)
	}
	return category.ID, nil
}

// FindCategory looks a category up by name without creating it.
func (g *DiscordGateway) FindCategory(ctx context.Context, guildID, name string) (string, error) {
	channels, err := g.session.GuildChannels(guildID)
	if err != nil {
		return "", mapError(err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", nil
}

// CategoryChannelCount counts the channels parented to a category.
func (g *DiscordGateway) CategoryChannelCount(ctx context.Context, guildID, categoryID string) (int, error) {
	channels, err := g.session.GuildChannels(guildID)
	if err != nil {
		return 0, mapError(err)
	}
	count := 0
	for _, ch := range channels {
		if ch.ParentID == categoryID {
			count++
		}
	}
	return count, nil
}

// CreateVoiceChannel creates a voice channel under the category.
func (g *DiscordGateway) CreateVoiceChannel(ctx context.Context, guildID, categoryID, name string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	ch, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:      name,
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  categoryID,
		UserLimit: 0,
	})
	if err != nil {
		return "", mapError(err)
	}
	return ch.ID, nil
}

// CreateTextChannel creates a text channel under the category.
func (g *DiscordGateway) CreateTextChannel(ctx context.Context, guildID, categoryID, name, topic string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	ch, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: categoryID,
		Topic:    topic,
	})
	if err != nil {
		return "", mapError(err)
	}
	return ch.ID, nil
}

// RenameChannel renames a channel in place.
func (g *DiscordGateway) RenameChannel(ctx context.Context, channelID, name string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Name: name})
	return mapError(err)
}

// DeleteChannel deletes a channel.
func (g *DiscordGateway) DeleteChannel(ctx context.Context, channelID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.session.ChannelDelete(channelID)
	return mapError(err)
}

// DenyConnect denies the @everyone role the connect permission on a voice
// channel. On Discord the default role's id equals the guild id.
func (g *DiscordGateway) DenyConnect(ctx context.Context, guildID, channelID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	err := g.session.ChannelPermissionSet(
		channelID,
		guildID,
		discordgo.PermissionOverwriteTypeRole,
		0,
		discordgo.PermissionVoiceConnect,
	)
	return mapError(err)
}

// SendEmbed posts an embed and returns the new message id.
func (g *DiscordGateway) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	msg, err := g.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

// EditEmbed replaces the embed on an existing message.
func (g *DiscordGateway) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.session.ChannelMessageEditEmbed(channelID, messageID, embed)
	return mapError(err)
}

func (g *DiscordGateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

// mapError translates discordgo failures onto the package taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if rl, ok := err.(*discordgo.RateLimitError); ok {
		return &RateLimitedError{RetryAfter: rl.RetryAfter}
	}
	if rest, ok := err.(*discordgo.RESTError); ok && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusTooManyRequests:
			return &RateLimitedError{RetryAfter: time.Second}
		}
		if rest.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
