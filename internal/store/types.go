// Package store holds the durable model of tracked servers and the atomic
// JSON file store that persists it across restarts.
package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/whoson/whosonbot/pkg/minecraft"
)

// ServerType is a protocol family hint or resolution.
type ServerType string

const (
	// TypeAuto lets the resolver detect the protocol family.
	TypeAuto ServerType = "auto"
	// TypeJava forces the Java edition client.
	TypeJava ServerType = "java"
	// TypeBedrock forces the Bedrock edition client.
	TypeBedrock ServerType = "bedrock"
	// TypeUnknown marks a server whose family has not been detected yet.
	TypeUnknown ServerType = "unknown"
)

// TrackedServer is one monitored server and the Discord channels that
// present it. The reconciliation engine owns ResolvedType, the channel and
// message ids, and LastStatus; the command layer owns everything else.
type TrackedServer struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	Port         int        `json:"port,omitempty"`
	Nickname     string     `json:"nickname,omitempty"`
	DeclaredType ServerType `json:"declared_type"`
	ResolvedType ServerType `json:"resolved_type"`

	VoiceChannelID string `json:"voice_channel_id,omitempty"`
	TextChannelID  string `json:"text_channel_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`

	LastStatus *LastStatus `json:"last_status,omitempty"`
}

// LastStatus is the display-relevant subset of the last observed status.
// Persisting it lets a restarted process skip platform writes when nothing
// the channels show has changed.
type LastStatus struct {
	Online     bool     `json:"online"`
	Players    int      `json:"players"`
	MaxPlayers int      `json:"max_players"`
	PlayerList []string `json:"player_list,omitempty"`
	MOTD       string   `json:"motd,omitempty"`
	Version    string   `json:"version,omitempty"`
}

// DisplayName is the label shown in channel names and embeds.
func (s *TrackedServer) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	return s.Target()
}

// Target is the canonical host:port string, with the port left implicit
// when the user did not give one.
func (s *TrackedServer) Target() string {
	if s.Port == 0 {
		return s.Address
	}
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// SameTarget reports whether two records point at the same (address, port).
func (s *TrackedServer) SameTarget(address string, port int) bool {
	return strings.EqualFold(s.Address, address) && s.Port == port
}

// EffectivePort resolves an omitted port to the protocol default implied by
// the declared type. Auto leans Java, matching the resolver's first probe.
func (s *TrackedServer) EffectivePort() int {
	if s.Port != 0 {
		return s.Port
	}
	if s.DeclaredType == TypeBedrock {
		return minecraft.DefaultBedrockPort
	}
	return minecraft.DefaultJavaPort
}

// SameEffectiveTarget reports whether two records reach the same server once
// omitted ports are resolved to their protocol defaults, so "host" and
// "host:25565" cannot double-track one server.
func (s *TrackedServer) SameEffectiveTarget(other *TrackedServer) bool {
	return strings.EqualFold(s.Address, other.Address) && s.EffectivePort() == other.EffectivePort()
}

// Provisioned reports whether both presentation channels exist.
func (s *TrackedServer) Provisioned() bool {
	return s.VoiceChannelID != "" && s.TextChannelID != ""
}

// GuildConfig is the ordered set of servers tracked in one guild. Slice
// order is insertion order and doubles as display order.
type GuildConfig struct {
	Servers []*TrackedServer `json:"servers"`
}

// FindServer returns the server with the given id, or nil.
func (g *GuildConfig) FindServer(id string) *TrackedServer {
	for _, srv := range g.Servers {
		if srv.ID == id {
			return srv
		}
	}
	return nil
}

// SnapshotEqual compares a persisted LastStatus with a fresh observation on
// the fields the channels display. Equal snapshots mean the reconciliation
// cycle can skip all platform writes.
func (l *LastStatus) SnapshotEqual(status *minecraft.Status) bool {
	if l == nil || status == nil {
		return false
	}
	if l.Online != status.Online ||
		l.Players != status.Players ||
		l.MaxPlayers != status.MaxPlayers ||
		l.MOTD != status.MOTD ||
		l.Version != status.Version {
		return false
	}
	if len(l.PlayerList) != len(status.PlayerList) {
		return false
	}
	for i := range l.PlayerList {
		if l.PlayerList[i] != status.PlayerList[i] {
			return false
		}
	}
	return true
}

// NewLastStatus captures the display-relevant subset of a status.
func NewLastStatus(status *minecraft.Status) *LastStatus {
	if status == nil {
		return &LastStatus{}
	}
	return &LastStatus{
		Online:     status.Online,
		Players:    status.Players,
		MaxPlayers: status.MaxPlayers,
		PlayerList: status.PlayerList,
		MOTD:       status.MOTD,
		Version:    status.Version,
	}
}

// ParseTarget splits a user-supplied "host" or "host:port" string.
func ParseTarget(input string) (address string, port int, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", 0, fmt.Errorf("empty server address")
	}
	if !strings.Contains(input, ":") {
		return input, 0, nil
	}
	host, portStr, err := splitHostPort(input)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p < 1 || p > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, p, nil
}

func splitHostPort(input string) (string, string, error) {
	idx := strings.LastIndex(input, ":")
	if idx <= 0 || idx == len(input)-1 {
		return "", "", fmt.Errorf("invalid server address %q", input)
	}
	return input[:idx], input[idx+1:], nil
}
