package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whosonbot/internal/store"
	"github.com/whoson/whosonbot/pkg/minecraft"
)

// Status indicator glyphs and embed colors.
const (
	IndicatorOnline  = "🟢"
	IndicatorOffline = "🔴"

	colorOnline  = 0x00ff00
	colorOffline = 0xff0000

	maxChannelNameLength = 100
	maxPlayersDisplayed  = 20
	maxPluginsDisplayed  = 5
	embedFieldLimit      = 1024
)

// RenderChannelName encodes a server's status into its voice channel name:
// "{indicator} {name}: {current}/{max} players", with 0/0 standing in for
// offline or unknown counts.
func RenderChannelName(name string, status *minecraft.Status) string {
	indicator := IndicatorOffline
	current, max := 0, 0
	if status != nil && status.Online {
		indicator = IndicatorOnline
		current, max = status.Players, status.MaxPlayers
	}
	rendered := fmt.Sprintf("%s %s: %d/%d players", indicator, name, current, max)
	return truncateRunes(rendered, maxChannelNameLength)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// lastStatusToStatus rebuilds the minimal status a persisted LastStatus
// describes, for rendering comparisons after a restart.
func lastStatusToStatus(last *store.LastStatus) *minecraft.Status {
	if last == nil {
		return nil
	}
	return &minecraft.Status{
		Online:     last.Online,
		Players:    last.Players,
		MaxPlayers: last.MaxPlayers,
		PlayerList: last.PlayerList,
		MOTD:       last.MOTD,
		Version:    last.Version,
	}
}

// BuildStatusEmbed renders the text channel's persistent embed for one
// observation, mirroring what the voice channel name summarizes.
func BuildStatusEmbed(srv *store.TrackedServer, status *minecraft.Status, probeErr error) *discordgo.MessageEmbed {
	title := "📊 " + srv.DisplayName()
	footer := &discordgo.MessageEmbedFooter{Text: "Server: " + srv.Target()}
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if status == nil || !status.Online {
		embed := &discordgo.MessageEmbed{
			Title:       title,
			Description: "🔴 **Server Offline**",
			Color:       colorOffline,
			Footer:      footer,
			Timestamp:   timestamp,
		}
		if probeErr != nil {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Error",
				Value: truncateRunes(probeErr.Error(), embedFieldLimit),
			})
		}
		return embed
	}

	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     colorOnline,
		Footer:    footer,
		Timestamp: timestamp,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: "🟢 Online", Inline: true},
			{Name: "Players", Value: fmt.Sprintf("%d/%d", status.Players, status.MaxPlayers), Inline: true},
			{Name: "Latency", Value: fmt.Sprintf("%dms", status.Latency), Inline: true},
			{Name: "Type", Value: editionLabel(status.Edition), Inline: true},
			{Name: "Version", Value: orUnknown(status.Version), Inline: true},
		},
	}

	if status.MOTD != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "MOTD",
			Value: "`" + truncateRunes(status.MOTD, embedFieldLimit-2) + "`",
		})
	}

	if status.Edition == minecraft.EditionJava && len(status.PlayerList) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Online Players",
			Value: truncateRunes(joinCapped(status.PlayerList, maxPlayersDisplayed), embedFieldLimit),
		})
	}

	if status.Edition == minecraft.EditionBedrock {
		if status.Gamemode != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: "Gamemode", Value: status.Gamemode, Inline: true,
			})
		}
		if status.MapName != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: "Map", Value: status.MapName, Inline: true,
			})
		}
	}

	if status.Edition == minecraft.EditionJava {
		if status.Software != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: "Software", Value: status.Software, Inline: true,
			})
		}
		if status.MapName != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: "Map", Value: status.MapName, Inline: true,
			})
		}
		if len(status.Plugins) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Plugins",
				Value: truncateRunes(joinCapped(status.Plugins, maxPluginsDisplayed), embedFieldLimit),
			})
		}
	}

	return embed
}

func joinCapped(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s ... and %d more", strings.Join(items[:limit], ", "), len(items)-limit)
}

func editionLabel(edition minecraft.Edition) string {
	switch edition {
	case minecraft.EditionJava:
		return "Java"
	case minecraft.EditionBedrock:
		return "Bedrock"
	}
	return "Unknown"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// TextChannelName derives a text channel slug from the display name, the
// way Discord normalizes channel names.
func TextChannelName(displayName string) string {
	slug := strings.ToLower(displayName)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, ".", "-")
	slug = strings.ReplaceAll(slug, ":", "")
	return slug
}
