// Package engine drives the poll → diff → mutate reconciliation cycle that
// keeps each guild's presentation channels converged with the observed
// state of its tracked servers.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whoson/whosonbot/internal/platform"
	"github.com/whoson/whosonbot/internal/resolver"
	"github.com/whoson/whosonbot/internal/store"
)

// ErrSweepInProgress signals that a manual update arrived while a sweep for
// the same guild was still running.
var ErrSweepInProgress = errors.New("a sweep for this guild is already running")

// StatusResolver is the slice of the resolver the engine depends on.
type StatusResolver interface {
	Resolve(srv *store.TrackedServer) resolver.Result
}

// Config tunes the reconciliation engine.
type Config struct {
	// CategoryName is the guild category all tracked channels live under.
	CategoryName string
	// PollInterval is the freshness bound between sweeps.
	PollInterval time.Duration
	// GuildConcurrency bounds how many guilds sweep in parallel.
	GuildConcurrency int
	// ProbeConcurrency bounds parallel probes within one guild sweep.
	ProbeConcurrency int
	// RateLimitRetries caps back-off retries of a rate-limited mutation
	// within a single cycle.
	RateLimitRetries int
	// MaxRetryWait caps how long one rate-limit retry will sleep.
	MaxRetryWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.CategoryName == "" {
		c.CategoryName = "WhosOn Tracking"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.GuildConcurrency <= 0 {
		c.GuildConcurrency = 4
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 8
	}
	if c.RateLimitRetries <= 0 {
		c.RateLimitRetries = 3
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 5 * time.Second
	}
}

// Engine owns the sweep scheduler and the per-server reconciliation state
// machine. It is the only writer of ResolvedType, channel ids, MessageID
// and LastStatus on tracked servers.
type Engine struct {
	store    *store.FileStore
	gateway  platform.Gateway
	resolver StatusResolver
	logger   *logrus.Logger
	cfg      Config

	// guildSems holds one binary semaphore per guild: sweeps try-acquire
	// (overlapping requests are rejected), removal paths block-acquire so
	// they never interleave with a running sweep's mutations.
	mu        sync.Mutex
	guildSems map[string]chan struct{}

	permMu       sync.Mutex
	permWarnings map[string][]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine.
func New(st *store.FileStore, gateway platform.Gateway, res StatusResolver, logger *logrus.Logger, cfg Config) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		store:        st,
		gateway:      gateway,
		resolver:     res,
		logger:       logger,
		cfg:          cfg,
		guildSems:    make(map[string]chan struct{}),
		permWarnings: make(map[string][]string),
	}
}

// Start launches the recurring sweep timer. The first sweep runs
// immediately so restarts repair state without waiting a full interval.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		e.SweepAll(ctx)

		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SweepAll(ctx)
			}
		}
	}()
}

// Stop cancels the scheduler and waits for in-flight work.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// SweepAll reconciles every guild, bounded-parallel across guilds. A guild
// whose previous sweep is still running is skipped, not queued.
func (e *Engine) SweepAll(ctx context.Context) {
	guilds := e.store.Guilds()
	sem := make(chan struct{}, e.cfg.GuildConcurrency)
	var wg sync.WaitGroup
	for guildID := range guilds {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.SweepGuild(ctx, id); err != nil && !errors.Is(err, ErrSweepInProgress) {
				e.logger.WithError(err).WithField("guild", id).Error("Guild sweep failed")
			}
		}(guildID)
	}
	wg.Wait()
}

// SweepGuild runs one reconciliation sweep for a single guild: probe all
// its servers concurrently, then apply platform mutations serially. Returns
// ErrSweepInProgress when a sweep for the guild is already running.
func (e *Engine) SweepGuild(ctx context.Context, guildID string) error {
	if !e.tryAcquire(guildID) {
		return ErrSweepInProgress
	}
	defer e.release(guildID)

	cfg, ok := e.store.Guild(guildID)
	if !ok {
		return nil
	}

	// Probe phase: independent network I/O, bounded fan-out. Each probe is
	// time-boxed by the resolver, so one unreachable server cannot stall
	// the sweep beyond its own timeout.
	results := make([]resolver.Result, len(cfg.Servers))
	sem := make(chan struct{}, e.cfg.ProbeConcurrency)
	var wg sync.WaitGroup
	for i, srv := range cfg.Servers {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, srv *store.TrackedServer) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.resolver.Resolve(srv)
		}(i, srv)
	}
	wg.Wait()

	// Mutation phase: serialized within the guild, since channel
	// operations on the same guild share rate limit buckets and can race.
	for i, srv := range cfg.Servers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.reconcileServer(ctx, guildID, srv, results[i])
	}
	return nil
}

func (e *Engine) guildSem(guildID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.guildSems[guildID]
	if !ok {
		sem = make(chan struct{}, 1)
		e.guildSems[guildID] = sem
	}
	return sem
}

func (e *Engine) tryAcquire(guildID string) bool {
	select {
	case e.guildSem(guildID) <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) acquire(guildID string) {
	e.guildSem(guildID) <- struct{}{}
}

func (e *Engine) release(guildID string) {
	<-e.guildSem(guildID)
}

// PermissionWarnings returns and clears the permission failures recorded
// for a guild since the last check. The permissions command reads these.
func (e *Engine) PermissionWarnings(guildID string) []string {
	e.permMu.Lock()
	defer e.permMu.Unlock()
	warnings := e.permWarnings[guildID]
	delete(e.permWarnings, guildID)
	return warnings
}

func (e *Engine) notePermissionFailure(guildID, operation string, err error) {
	e.logger.WithError(err).WithFields(logrus.Fields{
		"guild":     guildID,
		"operation": operation,
	}).Warn("Platform permission denied")

	e.permMu.Lock()
	defer e.permMu.Unlock()
	e.permWarnings[guildID] = append(e.permWarnings[guildID], operation+": "+err.Error())
}

// withRetry runs a platform mutation with the cycle-local retry policy:
// bounded back-off on rate limits, a single retry on transient failures.
// Anything still failing is deferred to the next scheduled cycle.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	transientRetried := false
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if wait, ok := platform.IsRateLimited(err); ok {
			if attempt >= e.cfg.RateLimitRetries {
				return err
			}
			if wait <= 0 || wait > e.cfg.MaxRetryWait {
				wait = e.cfg.MaxRetryWait
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return err
			}
		}

		if errors.Is(err, platform.ErrTransient) && !transientRetried {
			transientRetried = true
			continue
		}
		return err
	}
}
