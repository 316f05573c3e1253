package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoson/whosonbot/pkg/minecraft"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whoson_data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	return s
}

func TestAddServer_AssignsIDAndDefaults(t *testing.T) {
	s := newTestStore(t)

	srv, err := s.AddServer("guild1", &TrackedServer{Address: "mc.example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, srv.ID)
	assert.Equal(t, TypeAuto, srv.DeclaredType)
	assert.Equal(t, TypeUnknown, srv.ResolvedType)
}

func TestAddServer_RejectsDuplicateTarget(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddServer("guild1", &TrackedServer{Address: "mc.example.com", Port: 25565})
	require.NoError(t, err)

	_, err = s.AddServer("guild1", &TrackedServer{Address: "MC.EXAMPLE.COM", Port: 25565, Nickname: "dup"})
	assert.ErrorIs(t, err, ErrServerExists)

	// Same address in another guild is fine.
	_, err = s.AddServer("guild2", &TrackedServer{Address: "mc.example.com", Port: 25565})
	assert.NoError(t, err)

	// Same address on a different port is a different server.
	_, err = s.AddServer("guild1", &TrackedServer{Address: "mc.example.com", Port: 25566})
	assert.NoError(t, err)
}

func TestAddServer_DefaultPortMatchesExplicitPort(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddServer("guild1", &TrackedServer{Address: "mc.example.com", DeclaredType: TypeJava})
	require.NoError(t, err)
	_, err = s.AddServer("guild1", &TrackedServer{Address: "mc.example.com", Port: 25565, DeclaredType: TypeJava})
	assert.ErrorIs(t, err, ErrServerExists, "omitted port and the Java default are the same target")

	_, err = s.AddServer("guild1", &TrackedServer{Address: "pe.example.com", DeclaredType: TypeBedrock})
	require.NoError(t, err)
	_, err = s.AddServer("guild1", &TrackedServer{Address: "pe.example.com", Port: 19132, DeclaredType: TypeBedrock})
	assert.ErrorIs(t, err, ErrServerExists, "omitted port and the Bedrock default are the same target")

	// The Bedrock default on a declared-Java server is genuinely different.
	_, err = s.AddServer("guild1", &TrackedServer{Address: "mc.example.com", Port: 19132, DeclaredType: TypeJava})
	assert.NoError(t, err)
}

func TestAddServer_FailedSaveLeavesNoGhostGuild(t *testing.T) {
	// A store path inside a directory that does not exist loads fine but
	// cannot be saved.
	s, err := NewFileStore(filepath.Join(t.TempDir(), "missing", "whoson_data.json"))
	require.NoError(t, err)

	_, err = s.AddServer("guild1", &TrackedServer{Address: "mc.example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrServerExists)

	_, ok := s.Guild("guild1")
	assert.False(t, ok, "a rolled back add must not leave an empty guild entry")
	assert.Empty(t, s.Guilds())

	// The failed add must not poison later attempts with a duplicate error.
	_, err = s.AddServer("guild1", &TrackedServer{Address: "mc.example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrServerExists)
}

func TestStore_RoundTripPreservesOrderAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whoson_data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	names := []string{"alpha", "beta", "gamma"}
	for i, name := range names {
		_, err := s.AddServer("guild1", &TrackedServer{
			Address:      name + ".example.com",
			Port:         25565 + i,
			Nickname:     name,
			DeclaredType: TypeJava,
		})
		require.NoError(t, err)
	}

	cfg, ok := s.Guild("guild1")
	require.True(t, ok)
	first := cfg.Servers[0]
	require.NoError(t, s.UpdateServer("guild1", first.ID, func(srv *TrackedServer) {
		srv.ResolvedType = TypeJava
		srv.VoiceChannelID = "v1"
		srv.TextChannelID = "t1"
		srv.MessageID = "m1"
		srv.LastStatus = &LastStatus{Online: true, Players: 3, MaxPlayers: 20, PlayerList: []string{"alice"}}
	}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	cfg, ok = reopened.Guild("guild1")
	require.True(t, ok)
	require.Len(t, cfg.Servers, 3)
	for i, name := range names {
		assert.Equal(t, name, cfg.Servers[i].Nickname, "insertion order must survive restart")
	}

	srv := cfg.Servers[0]
	assert.Equal(t, TypeJava, srv.ResolvedType)
	assert.Equal(t, "v1", srv.VoiceChannelID)
	assert.Equal(t, "t1", srv.TextChannelID)
	assert.Equal(t, "m1", srv.MessageID)
	require.NotNil(t, srv.LastStatus)
	assert.Equal(t, []string{"alice"}, srv.LastStatus.PlayerList)
}

func TestRemoveServer_DropsGuildWhenEmpty(t *testing.T) {
	s := newTestStore(t)

	srv, err := s.AddServer("guild1", &TrackedServer{Address: "mc.example.com"})
	require.NoError(t, err)

	removed, err := s.RemoveServer("guild1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com", removed.Address)

	_, ok := s.Guild("guild1")
	assert.False(t, ok)

	_, err = s.RemoveServer("guild1", srv.ID)
	assert.ErrorIs(t, err, ErrGuildNotFound)
}

func TestSave_LeavesNoTempFilesAndStaysValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whoson_data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.AddServer("guild1", &TrackedServer{Address: "host", Port: 20000 + i})
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the store file should remain after saves")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]*GuildConfig
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded["guild1"].Servers, 5)
}

func TestGuilds_ReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddServer("guild1", &TrackedServer{Address: "mc.example.com"})
	require.NoError(t, err)

	snapshot := s.Guilds()
	snapshot["guild1"].Servers[0].Nickname = "mutated"

	cfg, ok := s.Guild("guild1")
	require.True(t, ok)
	assert.Empty(t, cfg.Servers[0].Nickname)
}

func TestSnapshotEqual(t *testing.T) {
	last := &LastStatus{Online: true, Players: 3, MaxPlayers: 20, PlayerList: []string{"a"}}

	same := &minecraft.Status{Online: true, Players: 3, MaxPlayers: 20, PlayerList: []string{"a"}}
	assert.True(t, last.SnapshotEqual(same))

	differentCount := &minecraft.Status{Online: true, Players: 4, MaxPlayers: 20, PlayerList: []string{"a"}}
	assert.False(t, last.SnapshotEqual(differentCount))

	offline := &minecraft.Status{Online: false}
	assert.False(t, last.SnapshotEqual(offline))

	var nilLast *LastStatus
	assert.False(t, nilLast.SnapshotEqual(same))
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"mc.example.com", "mc.example.com", 0, false},
		{"mc.example.com:25565", "mc.example.com", 25565, false},
		{"10.0.0.5:19132", "10.0.0.5", 19132, false},
		{"", "", 0, true},
		{"host:", "", 0, true},
		{":25565", "", 0, true},
		{"host:notaport", "", 0, true},
		{"host:70000", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := ParseTarget(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.wantHost, host)
		assert.Equal(t, tt.wantPort, port)
	}
}
