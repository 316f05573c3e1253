package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrServerExists indicates a duplicate (address, port) add in a guild.
	ErrServerExists = errors.New("server is already tracked in this guild")
	// ErrServerNotFound indicates the server id is not tracked.
	ErrServerNotFound = errors.New("server not found")
	// ErrGuildNotFound indicates the guild has no tracked servers.
	ErrGuildNotFound = errors.New("guild has no tracked servers")
)

// FileStore persists guild configurations to a single JSON file with an
// atomic whole-file replace. One mutex serializes every mutation, whichever
// goroutine (command handler or reconciliation sweep) drives it.
type FileStore struct {
	path string

	mu     sync.Mutex
	guilds map[string]*GuildConfig
}

// NewFileStore opens the store at path, loading existing data if present.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		guilds: make(map[string]*GuildConfig),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.guilds); err != nil {
		return fmt.Errorf("decoding store file %s: %w", s.path, err)
	}
	return nil
}

// save writes the whole store to a temp file in the same directory and
// renames it over the target, so a crash mid-write never corrupts existing
// data. Callers must hold s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.guilds, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

// Guilds returns a deep copy of every guild configuration, safe for the
// caller to read without holding the store lock.
func (s *FileStore) Guilds() map[string]*GuildConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*GuildConfig, len(s.guilds))
	for guildID, cfg := range s.guilds {
		out[guildID] = copyGuildConfig(cfg)
	}
	return out
}

// Guild returns a deep copy of one guild's configuration.
func (s *FileStore) Guild(guildID string) (*GuildConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	return copyGuildConfig(cfg), true
}

// AddServer appends a new tracked server to a guild, creating the guild
// entry on first use. Duplicate (address, port) pairs are rejected.
func (s *FileStore) AddServer(guildID string, srv *TrackedServer) (*TrackedServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv.DeclaredType == "" {
		srv.DeclaredType = TypeAuto
	}
	if srv.ResolvedType == "" {
		srv.ResolvedType = TypeUnknown
	}

	cfg, ok := s.guilds[guildID]
	if !ok {
		cfg = &GuildConfig{}
		s.guilds[guildID] = cfg
	}

	for _, existing := range cfg.Servers {
		if existing.SameEffectiveTarget(srv) {
			return nil, ErrServerExists
		}
	}

	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	cfg.Servers = append(cfg.Servers, srv)

	if err := s.save(); err != nil {
		// Roll back so the in-memory view matches disk, including a guild
		// entry created by this call.
		cfg.Servers = cfg.Servers[:len(cfg.Servers)-1]
		if !ok {
			delete(s.guilds, guildID)
		}
		return nil, err
	}
	return copyServer(srv), nil
}

// RemoveServer deletes a tracked server, preserving the order of the rest.
// It returns a copy of the removed record so the caller can delete its
// channels.
func (s *FileStore) RemoveServer(guildID, serverID string) (*TrackedServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return nil, ErrGuildNotFound
	}

	for i, srv := range cfg.Servers {
		if srv.ID == serverID {
			removed := copyServer(srv)
			cfg.Servers = append(cfg.Servers[:i], cfg.Servers[i+1:]...)
			if len(cfg.Servers) == 0 {
				delete(s.guilds, guildID)
			}
			if err := s.save(); err != nil {
				return nil, err
			}
			return removed, nil
		}
	}
	return nil, ErrServerNotFound
}

// UpdateServer applies fn to a tracked server under the store lock and
// persists the result. The engine uses this for the fields it owns.
func (s *FileStore) UpdateServer(guildID, serverID string, fn func(*TrackedServer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return ErrGuildNotFound
	}
	srv := cfg.FindServer(serverID)
	if srv == nil {
		return ErrServerNotFound
	}
	fn(srv)
	return s.save()
}

// DropGuild removes a whole guild entry, returning its former config.
func (s *FileStore) DropGuild(guildID string) (*GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return nil, ErrGuildNotFound
	}
	removed := copyGuildConfig(cfg)
	delete(s.guilds, guildID)
	if err := s.save(); err != nil {
		s.guilds[guildID] = cfg
		return nil, err
	}
	return removed, nil
}

func copyGuildConfig(cfg *GuildConfig) *GuildConfig {
	out := &GuildConfig{Servers: make([]*TrackedServer, len(cfg.Servers))}
	for i, srv := range cfg.Servers {
		out.Servers[i] = copyServer(srv)
	}
	return out
}

func copyServer(srv *TrackedServer) *TrackedServer {
	dup := *srv
	if srv.LastStatus != nil {
		last := *srv.LastStatus
		last.PlayerList = append([]string(nil), srv.LastStatus.PlayerList...)
		dup.LastStatus = &last
	}
	return &dup
}
