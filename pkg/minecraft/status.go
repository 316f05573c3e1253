// Package minecraft implements the two status-query wire protocols spoken by
// Minecraft servers: the Java edition Server List Ping over TCP (optionally
// enriched by the legacy GameSpot/UT3 query protocol over UDP) and the
// Bedrock edition RakNet unconnected ping over UDP.
//
// All probes are one-shot and read-only: they never cause state changes on
// the remote server, carry their own timeout, and do not retry.
package minecraft

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Edition identifies a Minecraft server protocol family.
type Edition string

const (
	// EditionJava is the Java edition (Server List Ping over TCP).
	EditionJava Edition = "java"
	// EditionBedrock is the Bedrock edition (RakNet unconnected ping over UDP).
	EditionBedrock Edition = "bedrock"
)

// Default ports for the two protocol families.
const (
	DefaultJavaPort    = 25565
	DefaultBedrockPort = 19132
)

// Status is the result of a successful probe. Fields that the responding
// protocol does not supply are left at their zero value, except PlayerList:
// a nil PlayerList means the server did not report a sample (unknown), while
// an empty non-nil list is a valid observation of zero visible players.
type Status struct {
	Edition    Edition
	Online     bool
	Players    int
	MaxPlayers int
	PlayerList []string
	Latency    int64 // round-trip milliseconds
	MOTD       string
	Version    string

	// Bedrock only.
	Gamemode string
	MapName  string

	// Java query enrichment only.
	Software string
	Plugins  []string
}

var colorCodeRegex = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`)

// StripColorCodes removes legacy §-prefixed formatting codes from server text.
func StripColorCodes(s string) string {
	return colorCodeRegex.ReplaceAllString(s, "")
}

// FlattenMOTD converts a Java status "description" value to plain text. The
// field is either a plain JSON string or a chat component object with a
// "text" field and nested "extra" components; both forms flatten to the
// concatenated text content.
func FlattenMOTD(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var component chatComponent
	if err := json.Unmarshal(raw, &component); err != nil {
		return ""
	}
	var b strings.Builder
	component.flatten(&b)
	return b.String()
}

type chatComponent struct {
	Text  string          `json:"text"`
	Extra []chatComponent `json:"extra"`
}

func (c *chatComponent) flatten(b *strings.Builder) {
	b.WriteString(c.Text)
	for i := range c.Extra {
		c.Extra[i].flatten(b)
	}
}
