package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoson/whosonbot/internal/engine"
	"github.com/whoson/whosonbot/internal/store"
)

type fakeStore struct {
	guilds map[string]*store.GuildConfig
	addErr error
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{guilds: make(map[string]*store.GuildConfig)}
}

func (f *fakeStore) AddServer(guildID string, srv *store.TrackedServer) (*store.TrackedServer, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	cfg := f.guilds[guildID]
	if cfg == nil {
		cfg = &store.GuildConfig{}
		f.guilds[guildID] = cfg
	}
	for _, existing := range cfg.Servers {
		if existing.SameTarget(srv.Address, srv.Port) {
			return nil, store.ErrServerExists
		}
	}
	f.nextID++
	srv.ID = string(rune('a' + f.nextID))
	cfg.Servers = append(cfg.Servers, srv)
	return srv, nil
}

func (f *fakeStore) Guild(guildID string) (*store.GuildConfig, bool) {
	cfg, ok := f.guilds[guildID]
	return cfg, ok
}

type fakeReconciler struct {
	sweeps    []string
	sweepErr  error
	removed   []string
	removeErr error
	cleaned   []string
	cleanupN  int
	dropped   []string
	warnings  []string

	reapplied     []string
	reapplyFixed  []string
	reapplyFailed []string
}

func (f *fakeReconciler) SweepGuild(ctx context.Context, guildID string) error {
	f.sweeps = append(f.sweeps, guildID)
	return f.sweepErr
}

func (f *fakeReconciler) RemoveServer(ctx context.Context, guildID, serverID string) (*store.TrackedServer, error) {
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	f.removed = append(f.removed, serverID)
	return &store.TrackedServer{ID: serverID, Address: "mc.example.com", Nickname: "Survival"}, nil
}

func (f *fakeReconciler) Cleanup(ctx context.Context, guildID string) (int, error) {
	f.cleaned = append(f.cleaned, guildID)
	return f.cleanupN, nil
}

func (f *fakeReconciler) DropGuildState(guildID string) error {
	f.dropped = append(f.dropped, guildID)
	return nil
}

func (f *fakeReconciler) PermissionWarnings(guildID string) []string {
	w := f.warnings
	f.warnings = nil
	return w
}

func (f *fakeReconciler) ReapplyPermissions(ctx context.Context, guildID string) (fixed, failed []string) {
	f.reapplied = append(f.reapplied, guildID)
	return f.reapplyFixed, f.reapplyFailed
}

func TestAddServer(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{}

	msg, err := addServer(context.Background(), st, rec, NewInputValidator(),
		"guild-1", "mc.example.com:25565", "Survival", "java")
	require.NoError(t, err)
	assert.Contains(t, msg, "Survival")
	assert.Contains(t, msg, "mc.example.com:25565")
	assert.Contains(t, msg, "did not respond", "fake sweep records no status")

	cfg, ok := st.Guild("guild-1")
	require.True(t, ok)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "mc.example.com", cfg.Servers[0].Address)
	assert.Equal(t, 25565, cfg.Servers[0].Port)
	assert.Equal(t, store.TypeJava, cfg.Servers[0].DeclaredType)

	assert.Equal(t, []string{"guild-1"}, rec.sweeps)
}

func TestAddServer_DefaultsToAuto(t *testing.T) {
	st := newFakeStore()
	_, err := addServer(context.Background(), st, &fakeReconciler{}, NewInputValidator(),
		"guild-1", "mc.example.com", "", "")
	require.NoError(t, err)

	cfg, _ := st.Guild("guild-1")
	assert.Equal(t, store.TypeAuto, cfg.Servers[0].DeclaredType)
	assert.Equal(t, 0, cfg.Servers[0].Port)
}

func TestAddServer_InvalidInput(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{}
	v := NewInputValidator()

	_, err := addServer(context.Background(), st, rec, v, "guild-1", "bad host", "", "")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com:99999", "", "")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com", "<nick>", "")
	assert.ErrorIs(t, err, ErrInvalidNickname)

	_, err = addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com", "", "pocket")
	assert.ErrorIs(t, err, ErrInvalidServerType)

	assert.Empty(t, rec.sweeps, "no sweep should run for rejected input")
}

func TestAddServer_Duplicate(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{}
	v := NewInputValidator()

	_, err := addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com", "", "")
	require.NoError(t, err)
	_, err = addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com", "Again", "")
	assert.ErrorIs(t, err, store.ErrServerExists)
}

func TestAddServer_SweepAlreadyRunningIsNotAnError(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{sweepErr: engine.ErrSweepInProgress}

	msg, err := addServer(context.Background(), st, rec, NewInputValidator(),
		"guild-1", "mc.example.com", "", "")
	require.NoError(t, err)
	assert.Contains(t, msg, "mc.example.com")
}

func TestRemoveServer_ByNicknameAndAddress(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{}
	v := NewInputValidator()

	_, err := addServer(context.Background(), st, rec, v, "guild-1", "mc.example.com:25565", "Survival", "")
	require.NoError(t, err)

	msg, err := removeServer(context.Background(), st, rec, v, "guild-1", "survival")
	require.NoError(t, err)
	assert.Contains(t, msg, "Stopped tracking")
	require.Len(t, rec.removed, 1)

	_, err = addServer(context.Background(), st, rec, v, "guild-1", "play.example.net", "", "")
	require.NoError(t, err)
	_, err = removeServer(context.Background(), st, rec, v, "guild-1", "PLAY.example.net")
	require.NoError(t, err)
}

func TestRemoveServer_NotFound(t *testing.T) {
	st := newFakeStore()
	rec := &fakeReconciler{}

	_, err := removeServer(context.Background(), st, rec, NewInputValidator(), "guild-1", "ghost")
	assert.ErrorIs(t, err, store.ErrGuildNotFound)

	_, aerr := addServer(context.Background(), st, rec, NewInputValidator(), "guild-1", "mc.example.com", "", "")
	require.NoError(t, aerr)
	_, err = removeServer(context.Background(), st, rec, NewInputValidator(), "guild-1", "ghost")
	assert.ErrorIs(t, err, store.ErrServerNotFound)
}

func TestServerChoices(t *testing.T) {
	st := newFakeStore()
	assert.Empty(t, serverChoices(st, "guild-1", ""), "unknown guild yields no choices")

	st.guilds["guild-1"] = &store.GuildConfig{Servers: []*store.TrackedServer{
		{Address: "mc.example.com", Port: 25565, Nickname: "Survival"},
		{Address: "pe.example.com"},
	}}

	all := serverChoices(st, "guild-1", "")
	require.Len(t, all, 2)
	assert.Equal(t, "Survival (mc.example.com:25565)", all[0].Name)
	assert.Equal(t, "mc.example.com:25565", all[0].Value)
	assert.Equal(t, "pe.example.com", all[1].Name)
	assert.Equal(t, "pe.example.com", all[1].Value)

	byNickname := serverChoices(st, "guild-1", "SURV")
	require.Len(t, byNickname, 1)
	assert.Equal(t, "mc.example.com:25565", byNickname[0].Value)

	byAddress := serverChoices(st, "guild-1", "pe.example")
	require.Len(t, byAddress, 1)
	assert.Equal(t, "pe.example.com", byAddress[0].Value)

	assert.Empty(t, serverChoices(st, "guild-1", "ghost"))
}

func TestServerChoices_CapAndTruncation(t *testing.T) {
	st := newFakeStore()
	cfg := &store.GuildConfig{}
	for i := 0; i < 30; i++ {
		cfg.Servers = append(cfg.Servers, &store.TrackedServer{
			Address: "host" + string(rune('a'+i)) + ".example.com",
		})
	}
	cfg.Servers[0].Nickname = strings.Repeat("n", 120)
	st.guilds["guild-1"] = cfg

	choices := serverChoices(st, "guild-1", "")
	require.Len(t, choices, 25, "Discord caps autocomplete at 25 choices")
	assert.Len(t, []rune(choices[0].Name), 100)
	assert.Equal(t, "hosta.example.com", choices[0].Value,
		"the value stays the full target even when the name is truncated")
}

func TestListServers(t *testing.T) {
	st := newFakeStore()
	assert.Contains(t, listServers(st, "guild-1"), "No servers are tracked")

	st.guilds["guild-1"] = &store.GuildConfig{Servers: []*store.TrackedServer{
		{
			Address: "mc.example.com", Port: 25565, Nickname: "Survival",
			ResolvedType: store.TypeJava,
			LastStatus:   &store.LastStatus{Online: true, Players: 3, MaxPlayers: 20},
		},
		{
			Address:      "pe.example.com",
			DeclaredType: store.TypeBedrock,
			ResolvedType: store.TypeUnknown,
		},
	}}

	out := listServers(st, "guild-1")
	assert.Contains(t, out, "Tracking 2 server(s)")
	assert.Contains(t, out, "🟢 **Survival** — `mc.example.com:25565` (java) 3/20 players")
	assert.Contains(t, out, "🔴 **pe.example.com** — `pe.example.com` (bedrock) 0/0 players")
}

func TestUpdateNow(t *testing.T) {
	rec := &fakeReconciler{}
	assert.Equal(t, "All tracked servers refreshed.", updateNow(context.Background(), rec, "guild-1"))

	rec.sweepErr = engine.ErrSweepInProgress
	out := updateNow(context.Background(), rec, "guild-1")
	assert.Contains(t, out, "already running")
}

func TestPermissionsReport(t *testing.T) {
	rec := &fakeReconciler{
		warnings:      []string{"renaming voice channel: permission denied"},
		reapplyFixed:  []string{"Survival"},
		reapplyFailed: []string{"Creative"},
	}

	out := permissionsReport(context.Background(), rec, "guild-1", "app-id", 0)
	assert.Contains(t, out, "Missing permissions")
	assert.Contains(t, out, "Manage Channels")
	assert.Contains(t, out, "client_id=app-id")
	assert.Contains(t, out, "renaming voice channel")
	assert.Contains(t, out, "1 ok, 1 failed")
	assert.Contains(t, out, "failed: Creative")
	assert.Equal(t, []string{"guild-1"}, rec.reapplied)

	full := permissionsReport(context.Background(), rec, "guild-1", "app-id", requiredPermissions)
	assert.Contains(t, full, "All required permissions are granted")
	assert.False(t, strings.Contains(full, "Recent permission failures"))
}

func TestCleanupGuild(t *testing.T) {
	rec := &fakeReconciler{cleanupN: 2}
	out := cleanupGuild(context.Background(), rec, "guild-1")
	assert.Contains(t, out, "Removed 2 tracked server(s)")
	assert.Equal(t, []string{"guild-1"}, rec.cleaned)
}

func TestParseServerType(t *testing.T) {
	tests := []struct {
		input   string
		want    store.ServerType
		wantErr bool
	}{
		{"", store.TypeAuto, false},
		{"auto", store.TypeAuto, false},
		{"Java", store.TypeJava, false},
		{"BEDROCK", store.TypeBedrock, false},
		{"pocket", "", true},
	}
	for _, tt := range tests {
		got, err := parseServerType(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}
