package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/mulyo/internal/config"
	"github.com/loykin/mulyo/internal/detector"
	"github.com/loykin/mulyo/internal/history"
	"github.com/loykin/mulyo/internal/history/sqlite"
	"github.com/loykin/mulyo/internal/logger"
	"github.com/loykin/mulyo/internal/metrics"
	"github.com/loykin/mulyo/internal/registry"
	"github.com/loykin/mulyo/internal/supervisor"
)

// app is the per-invocation runtime shared by commands.
type app struct {
	flags  *GlobalFlags
	out    io.Writer
	errOut io.Writer

	cfg     *config.Config
	log     *slog.Logger
	store   *registry.Store
	prober  *detector.Prober
	closers []io.Closer
}

func (a *app) init() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.flags.ConfigPath)
	if err != nil {
		return err
	}
	if a.flags.LogLevel != "" {
		cfg.Log.Level = a.flags.LogLevel
	}
	log, closer := logger.New(cfg.Log, a.errOut)
	slog.SetDefault(log)
	a.cfg = cfg
	a.log = log
	a.closers = append(a.closers, closer)
	a.store = registry.Open(cfg.RegistryPath(), log)
	a.prober = detector.NewProber(log)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// listeners builds the observers attached to a supervisor: metrics snapshot
// and history journal. Either is skipped, with a warning, if unavailable.
func (a *app) listeners(metricsFile string) []supervisor.Listener {
	var ls []supervisor.Listener
	if metricsFile == "" {
		metricsFile = a.cfg.Metrics.File
	}
	if metricsFile != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			a.log.Warn("metrics disabled", "error", err)
		} else {
			ls = append(ls, metrics.NewRecorder(metricsFile, reg, a.log).Listen)
		}
	}
	if a.cfg.History.Enabled {
		if err := os.MkdirAll(filepath.Dir(a.cfg.HistoryPath()), 0o750); err != nil {
			a.log.Warn("history journal disabled", "error", err)
			return ls
		}
		sink, err := sqlite.New(a.cfg.HistoryPath())
		if err != nil {
			a.log.Warn("history journal disabled", "path", a.cfg.HistoryPath(), "error", err)
		} else {
			a.closers = append(a.closers, sink)
			ls = append(ls, history.Listener(sink, a.log))
		}
	}
	return ls
}
