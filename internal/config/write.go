package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ErrExists is returned by WriteDefault when the file exists and force is off.
var ErrExists = errors.New("config file already exists")

// fileDoc is the on-disk layout written by WriteDefault. Durations are
// strings so the file stays readable.
type fileDoc struct {
	Home         string            `toml:"home" comment:"state directory: registry, logs, history"`
	MaxMemory    int               `toml:"max_memory" comment:"advertised memory ceiling in MB, 0 disables"`
	Priority     string            `toml:"priority" comment:"high requests a raised scheduling priority"`
	Exploration  string            `toml:"exploration" comment:"superficial (1s restart delay) or deep (5s)"`
	RestartDelay int               `toml:"restart_delay" comment:"restart delay in ms, 0 derives from exploration"`
	MaxRestarts  int               `toml:"max_restarts" comment:"0 restarts forever"`
	ShowErrors   bool              `toml:"show_errors"`
	Env          map[string]string `toml:"env"`
	Log          logDoc            `toml:"log"`
	Metrics      metricsDoc        `toml:"metrics"`
	History      historyDoc        `toml:"history"`
	Dashboard    intervalDoc       `toml:"dashboard"`
	Tail         tailDoc           `toml:"tail"`
}

type logDoc struct {
	Level string `toml:"level"`
	File  string `toml:"file" comment:"empty logs to stderr"`
}

type metricsDoc struct {
	File string `toml:"file" comment:"Prometheus textfile written on every state change"`
}

type historyDoc struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path" comment:"defaults to <home>/history.db"`
}

type intervalDoc struct {
	Interval string `toml:"interval"`
}

type tailDoc struct {
	PollInterval string `toml:"poll_interval"`
}

func defaultDoc() fileDoc {
	return fileDoc{
		Home:        "~/.mulyo",
		MaxMemory:   512,
		Priority:    "high",
		Exploration: "superficial",
		Env:         map[string]string{},
		Log:         logDoc{Level: "info"},
		History:     historyDoc{Enabled: true},
		Dashboard:   intervalDoc{Interval: "2s"},
		Tail:        tailDoc{PollInterval: "500ms"},
	}
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	b, err := toml.Marshal(defaultDoc())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o600)
}
