package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/loykin/mulyo/internal/logger"
	"github.com/loykin/mulyo/internal/process"
	"github.com/loykin/mulyo/internal/registry"
	"github.com/loykin/mulyo/internal/supervisor"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "mulyo.toml"

// EnvPrefix prefixes environment overrides, e.g. MULYO_MAX_MEMORY.
const EnvPrefix = "MULYO"

// Config is the technical configuration of mulyo.
type Config struct {
	Home         string            `mapstructure:"home"`
	MaxMemory    int               `mapstructure:"max_memory"`
	Priority     string            `mapstructure:"priority"`
	Exploration  string            `mapstructure:"exploration"`
	RestartDelay int               `mapstructure:"restart_delay"` // ms, 0 derives from exploration
	MaxRestarts  int               `mapstructure:"max_restarts"`
	ShowErrors   bool              `mapstructure:"show_errors"`
	Env          map[string]string `mapstructure:"env"`
	EnvFiles     []string          `mapstructure:"env_files"`
	Log          logger.Config     `mapstructure:"log"`
	Metrics      MetricsConfig     `mapstructure:"metrics"`
	History      HistoryConfig     `mapstructure:"history"`
	Dashboard    DashboardConfig   `mapstructure:"dashboard"`
	Tail         TailConfig        `mapstructure:"tail"`
}

type MetricsConfig struct {
	File string `mapstructure:"file"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type DashboardConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type TailConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// envKeys are the scalar keys bound to MULYO_* variables. The env map is not
// bound: MULYO_ENV is reserved for the child marker.
var envKeys = []string{
	"home", "max_memory", "priority", "exploration", "restart_delay", "max_restarts",
	"show_errors", "log.level", "log.file", "metrics.file", "history.enabled",
	"history.path", "dashboard.interval", "tail.poll_interval",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "~/.mulyo")
	v.SetDefault("max_memory", 512)
	v.SetDefault("priority", string(process.PriorityHigh))
	v.SetDefault("exploration", string(supervisor.ExplorationSuperficial))
	v.SetDefault("restart_delay", 0)
	v.SetDefault("max_restarts", 0)
	v.SetDefault("show_errors", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("history.enabled", true)
	v.SetDefault("dashboard.interval", 2*time.Second)
	v.SetDefault("tail.poll_interval", 500*time.Millisecond)
}

// Load reads path, or ./mulyo.toml when path is empty. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	home, err := expandHome(c.Home)
	if err != nil {
		return nil, err
	}
	c.Home = home
	if used := v.ConfigFileUsed(); used != "" {
		// viper folds keys to lower case; variable names must keep theirs
		env, err := readEnvTable(used)
		if err != nil {
			return nil, err
		}
		c.Env = env
	}
	if len(c.EnvFiles) > 0 {
		base := "."
		if used := v.ConfigFileUsed(); used != "" {
			base = filepath.Dir(used)
		}
		merged, err := mergeEnvFiles(base, c.EnvFiles, c.Env)
		if err != nil {
			return nil, err
		}
		c.Env = merged
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	if _, err := supervisor.ParseExploration(c.Exploration); err != nil {
		return err
	}
	switch process.Priority(strings.ToLower(c.Priority)) {
	case process.PriorityHigh, process.PriorityNormal, "":
	default:
		return fmt.Errorf("unknown priority %q", c.Priority)
	}
	if c.MaxMemory < 0 || c.RestartDelay < 0 || c.MaxRestarts < 0 {
		return errors.New("max_memory, restart_delay and max_restarts must not be negative")
	}
	return nil
}

// Supervisor returns the per-target configuration.
func (c *Config) Supervisor() supervisor.Config {
	mode, _ := supervisor.ParseExploration(c.Exploration)
	env := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		env[k] = v
	}
	return supervisor.Config{
		Config: process.Config{
			MaxMemoryMB: c.MaxMemory,
			Priority:    process.Priority(strings.ToLower(c.Priority)),
			ShowErrors:  c.ShowErrors,
			Env:         env,
		},
		Exploration:  mode,
		RestartDelay: time.Duration(c.RestartDelay) * time.Millisecond,
		MaxRestarts:  c.MaxRestarts,
	}
}

func (c *Config) RegistryPath() string { return filepath.Join(c.Home, registry.FileName) }

func (c *Config) LogsDir() string { return filepath.Join(c.Home, "logs") }

// HistoryPath is the journal location, defaulting to <home>/history.db.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Home, "history.db")
}

func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return filepath.Join(h, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

func readEnvTable(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Env map[string]string `toml:"env"`
	}
	if err := toml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode env table: %w", err)
	}
	return doc.Env, nil
}

// mergeEnvFiles loads .env files in order; explicit env entries win.
func mergeEnvFiles(base string, files []string, explicit map[string]string) (map[string]string, error) {
	out := make(map[string]string)
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		for k, v := range pairs {
			out[k] = v
		}
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and # comments are ignored,
// as is a leading "export ".
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			val := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			m[k] = val
		}
	}
	return m, nil
}
