package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrScriptNotFound is returned when the target script does not exist.
var ErrScriptNotFound = errors.New("script not found")

// SpawnError reports that the OS refused to launch a child.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Priority is the scheduling hint applied to children.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// niceHigh is the niceness requested for PriorityHigh.
const niceHigh = -10

// Config is the immutable per-target spawn configuration.
type Config struct {
	MaxMemoryMB int               `mapstructure:"max_memory" toml:"max_memory"`
	Priority    Priority          `mapstructure:"priority" toml:"priority"`
	ShowErrors  bool              `mapstructure:"show_errors" toml:"show_errors"`
	Env         map[string]string `mapstructure:"env" toml:"env"`
}

// Sanitizer rewrites one line of child stderr before it reaches the caller.
type Sanitizer func(line string) string

// Spec describes one launch of a target script.
type Spec struct {
	Name       string
	ScriptPath string // absolute, see Resolve
	Args       []string
	Config     Config
	Stdout     io.Writer // nil discards
	Stderr     io.Writer // nil discards
	Sanitizer  Sanitizer // applied to stderr unless Config.ShowErrors
	ExtraEnv   map[string]string
	Logger     *slog.Logger
}

// Resolve returns the absolute path of script, or ErrScriptNotFound.
func Resolve(script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: empty path", ErrScriptNotFound)
	}
	abs, err := filepath.Abs(script)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrScriptNotFound, script, err)
	}
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, abs)
	}
	return abs, nil
}

// Variant selects how a target is launched.
type Variant int

const (
	// Managed targets are launched directly and get an IPC channel.
	Managed Variant = iota
	// External targets are launched through an interpreter.
	External
)

func (v Variant) String() string {
	switch v {
	case Managed:
		return "managed"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

var interpreters = map[string][]string{
	".sh":   {"/bin/sh"},
	".bash": {"bash"},
	".py":   {"python3"},
	".js":   {"node"},
	".mjs":  {"node"},
	".cjs":  {"node"},
	".rb":   {"ruby"},
	".pl":   {"perl"},
}

var fallbackInterpreter = []string{"/bin/sh"}

// Interpreter returns the launcher for an External target.
func Interpreter(path string) []string {
	if argv, ok := interpreters[strings.ToLower(filepath.Ext(path))]; ok {
		return argv
	}
	return fallbackInterpreter
}

// ChooseVariant reports Managed for files the OS can execute as-is: an exec
// bit plus a shebang or a native binary header.
func ChooseVariant(path string) Variant {
	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&0o111 == 0 {
		return External
	}
	// #nosec G304 -- the caller resolved this path from user input on purpose
	f, err := os.Open(path)
	if err != nil {
		return External
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	for _, magic := range nativeMagic {
		if bytes.HasPrefix(head, magic) {
			return Managed
		}
	}
	return External
}

var nativeMagic = [][]byte{
	[]byte("#!"),
	{0x7f, 'E', 'L', 'F'},
	{0xcf, 0xfa, 0xed, 0xfe}, // Mach-O 64
	{0xce, 0xfa, 0xed, 0xfe}, // Mach-O 32
	{0xca, 0xfe, 0xba, 0xbe}, // universal
}
