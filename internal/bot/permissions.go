package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// requiredPermissions is the permission set the bot needs to provision and
// maintain tracking channels.
const requiredPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionManageChannels |
	discordgo.PermissionManageRoles |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks

var permissionNames = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionViewChannel, "View Channels"},
	{discordgo.PermissionManageChannels, "Manage Channels"},
	{discordgo.PermissionManageRoles, "Manage Roles"},
	{discordgo.PermissionSendMessages, "Send Messages"},
	{discordgo.PermissionEmbedLinks, "Embed Links"},
}

// MissingPermissions lists the human-readable names of required permissions
// absent from the given permission bitfield.
func MissingPermissions(perms int64) []string {
	var missing []string
	for _, p := range permissionNames {
		if perms&p.bit == 0 {
			missing = append(missing, p.name)
		}
	}
	return missing
}

// InviteURL builds an OAuth2 invite link that grants the bot its required
// permission set.
func InviteURL(applicationID string) string {
	return fmt.Sprintf(
		"https://discord.com/api/oauth2/authorize?client_id=%s&permissions=%d&scope=bot%%20applications.commands",
		applicationID, requiredPermissions,
	)
}
