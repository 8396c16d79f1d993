// Package mulyo exposes the supervisor and the background-process registry
// for embedding in other programs.
package mulyo

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/mulyo/internal/config"
	"github.com/loykin/mulyo/internal/detector"
	"github.com/loykin/mulyo/internal/history"
	"github.com/loykin/mulyo/internal/metrics"
	"github.com/loykin/mulyo/internal/registry"
	"github.com/loykin/mulyo/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type Options = supervisor.Options

type Event = supervisor.Event

type Listener = supervisor.Listener

type State = supervisor.State

type Tracked = supervisor.Tracked

type Record = registry.Record

type Live = registry.Live

type HistorySink = history.Sink

var (
	ErrRestartLimit  = supervisor.ErrRestartLimit
	ErrTargetMissing = registry.ErrTargetMissing
	ErrTargetGone    = registry.ErrTargetGone
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) *Supervisor { return &Supervisor{inner: supervisor.New(opts)} }

func (s *Supervisor) Start(ctx context.Context, script string, c Config) (int, error) {
	return s.inner.Start(ctx, script, c)
}
func (s *Supervisor) Subscribe(l Listener) { s.inner.Subscribe(l) }
func (s *Supervisor) StopAll()             { s.inner.StopAll() }

// Shutdown signals every child's process group and kills what remains after grace.
func (s *Supervisor) Shutdown(sig os.Signal, grace time.Duration) { s.inner.Shutdown(sig, grace) }

func (s *Supervisor) Wait()              { s.inner.Wait() }
func (s *Supervisor) Tracked() []Tracked { return s.inner.Tracked() }

// Registry gives access to the background-process registry file.
type Registry struct {
	store  *registry.Store
	prober *detector.Prober
}

// OpenRegistry opens the registry at path; the file is created on first write.
func OpenRegistry(path string, logger *slog.Logger) *Registry {
	return &Registry{store: registry.Open(path, logger), prober: detector.NewProber(logger)}
}

func (r *Registry) Path() string                       { return r.store.Path() }
func (r *Registry) Add(rec Record) error               { return r.store.Add(rec) }
func (r *Registry) Records() ([]Record, error)         { return r.store.Load() }
func (r *Registry) Census() ([]Live, error)            { return registry.Census(r.store, r.prober, time.Now()) }
func (r *Registry) Find(pid int) (Record, bool, error) { return r.store.Find(pid) }

// Terminate sends SIGTERM to pid after waiting ceremony and removes its entry.
func (r *Registry) Terminate(ctx context.Context, pid int, ceremony time.Duration) (Record, error) {
	return registry.Terminate(ctx, r.store, r.prober, pid, registry.TerminateOptions{Ceremony: ceremony})
}

func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsListener returns a Listener that rewrites a Prometheus textfile
// gathered from g after every supervision event.
func MetricsListener(path string, g prometheus.Gatherer, logger *slog.Logger) Listener {
	return metrics.NewRecorder(path, g, logger).Listen
}

// HistoryListener journals supervision events into sink.
func HistoryListener(sink HistorySink, logger *slog.Logger) Listener {
	return history.Listener(sink, logger)
}
