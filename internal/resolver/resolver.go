// Package resolver decides which protocol client to use for a tracked
// server and owns the auto-detection policy: detection is sticky, cross
// probing happens at most once per cycle, and declared types are never
// second-guessed.
package resolver

import (
	"time"

	"github.com/whoson/whosonbot/internal/store"
	"github.com/whoson/whosonbot/pkg/minecraft"
)

// Prober abstracts the one-shot protocol clients so the engine and tests
// can substitute fakes for real network probes.
type Prober interface {
	PingJava(address string, port int, timeout time.Duration) (*minecraft.Status, error)
	PingBedrock(address string, port int, timeout time.Duration) (*minecraft.Status, error)
	QueryJava(address string, port int, timeout time.Duration) (*minecraft.QueryResult, error)
}

// NetworkProber probes over the real network using pkg/minecraft.
type NetworkProber struct{}

func (NetworkProber) PingJava(address string, port int, timeout time.Duration) (*minecraft.Status, error) {
	return minecraft.PingJava(address, port, timeout)
}

func (NetworkProber) PingBedrock(address string, port int, timeout time.Duration) (*minecraft.Status, error) {
	return minecraft.PingBedrock(address, port, timeout)
}

func (NetworkProber) QueryJava(address string, port int, timeout time.Duration) (*minecraft.QueryResult, error) {
	return minecraft.QueryJava(address, port, timeout)
}

// Result is the outcome of one resolution cycle.
type Result struct {
	// Status is non-nil when some probe succeeded.
	Status *minecraft.Status
	// ResolvedType is the protocol family that answered, or the previous
	// resolution when nothing did. The engine persists changes to it.
	ResolvedType store.ServerType
	// Err is the failure of the last probe attempted; nil on success.
	Err error
}

// Resolver selects and runs probes according to the declared and cached
// server types.
type Resolver struct {
	prober  Prober
	timeout time.Duration
}

// New creates a resolver. timeout bounds each individual probe.
func New(prober Prober, timeout time.Duration) *Resolver {
	if prober == nil {
		prober = NetworkProber{}
	}
	return &Resolver{prober: prober, timeout: timeout}
}

// Resolve runs at most two probes for the server and reports what answered.
//
// Declared java/bedrock servers only ever get their declared client: a
// failure means offline, never "wrong type". Auto servers try the cached
// resolution first and fall back to the other family once in the same
// cycle. First-ever detection orders the attempts by the port convention
// (19132 leans Bedrock, anything else leans Java).
func (r *Resolver) Resolve(srv *store.TrackedServer) Result {
	switch srv.DeclaredType {
	case store.TypeJava:
		return r.single(srv, store.TypeJava)
	case store.TypeBedrock:
		return r.single(srv, store.TypeBedrock)
	}

	first, second := r.probeOrder(srv)

	res := r.single(srv, first)
	if res.Err == nil {
		return res
	}
	fallback := r.single(srv, second)
	if fallback.Err == nil {
		return fallback
	}

	// Both families failed: keep the previous resolution so a transient
	// outage does not flip the cached type.
	fallback.ResolvedType = srv.ResolvedType
	return fallback
}

func (r *Resolver) probeOrder(srv *store.TrackedServer) (first, second store.ServerType) {
	switch srv.ResolvedType {
	case store.TypeJava:
		return store.TypeJava, store.TypeBedrock
	case store.TypeBedrock:
		return store.TypeBedrock, store.TypeJava
	}
	if srv.Port == minecraft.DefaultBedrockPort {
		return store.TypeBedrock, store.TypeJava
	}
	return store.TypeJava, store.TypeBedrock
}

func (r *Resolver) single(srv *store.TrackedServer, family store.ServerType) Result {
	if family == store.TypeBedrock {
		status, err := r.prober.PingBedrock(srv.Address, srv.Port, r.timeout)
		if err != nil {
			return Result{ResolvedType: srv.ResolvedType, Err: err}
		}
		return Result{Status: status, ResolvedType: store.TypeBedrock}
	}

	status, err := r.prober.PingJava(srv.Address, srv.Port, r.timeout)
	if err != nil {
		return Result{ResolvedType: srv.ResolvedType, Err: err}
	}
	r.enrichFromQuery(srv, status)
	return Result{Status: status, ResolvedType: store.TypeJava}
}

// enrichFromQuery layers best-effort UT3 query data onto a successful Java
// ping. Query failures are expected (most servers disable the protocol) and
// never fail the probe.
func (r *Resolver) enrichFromQuery(srv *store.TrackedServer, status *minecraft.Status) {
	query, err := r.prober.QueryJava(srv.Address, srv.Port, r.timeout)
	if err != nil || query == nil {
		return
	}
	status.Software = query.Software
	status.Plugins = query.Plugins
	status.MapName = query.MapName
	if status.PlayerList == nil && query.PlayerList != nil {
		status.PlayerList = query.PlayerList
	}
}
