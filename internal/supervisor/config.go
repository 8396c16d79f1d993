package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/mulyo/internal/process"
)

// Exploration selects the default restart delay.
type Exploration string

const (
	ExplorationSuperficial Exploration = "superficial"
	ExplorationDeep        Exploration = "deep"
)

// ParseExploration accepts "superficial" and "deep", case-insensitively.
// An empty string is superficial.
func ParseExploration(s string) (Exploration, error) {
	switch Exploration(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExplorationSuperficial:
		return ExplorationSuperficial, nil
	case ExplorationDeep:
		return ExplorationDeep, nil
	}
	return "", fmt.Errorf("unknown exploration mode %q", s)
}

// DefaultDelay is the restart delay implied by the mode.
func (e Exploration) DefaultDelay() time.Duration {
	if e == ExplorationDeep {
		return 5 * time.Second
	}
	return time.Second
}

// Config is the immutable configuration a target is started with. Every
// respawn reuses it unchanged.
type Config struct {
	process.Config `mapstructure:",squash"`
	Exploration    Exploration   `mapstructure:"exploration"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"` // zero derives from Exploration
	MaxRestarts    int           `mapstructure:"max_restarts"`  // zero is unbounded
}

// Delay returns the effective restart delay.
func (c Config) Delay() time.Duration {
	if c.RestartDelay > 0 {
		return c.RestartDelay
	}
	return c.Exploration.DefaultDelay()
}
