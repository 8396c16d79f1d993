package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"
)

// Paths holds the stdout/stderr log files of one supervised target.
type Paths struct {
	Out string `json:"out"`
	Err string `json:"err"`
}

// Token turns a target name into a filesystem-safe file stem: every character
// outside [A-Za-z0-9] becomes '_' (two for characters outside the Basic
// Multilingual Plane) and the result is lower-cased.
func Token(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			// one '_' per UTF-16 code unit, so astral runes such as emoji
			// become "__"
			n := utf16.RuneLen(r)
			if n < 1 {
				n = 1
			}
			b.WriteString(strings.Repeat("_", n))
		}
	}
	return b.String()
}

// Resolve returns the deterministic log paths for name inside dir,
// creating dir when needed.
func Resolve(dir, name string) (Paths, error) {
	if dir == "" {
		return Paths{}, fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	tok := Token(name)
	return Paths{
		Out: filepath.Join(dir, tok+".out.log"),
		Err: filepath.Join(dir, tok+".err.log"),
	}, nil
}

// OpenAppend opens both files in append mode for handing to a child as stdio.
func (p Paths) OpenAppend() (*os.File, *os.File, error) {
	// #nosec G304 -- paths come from Resolve
	out, err := os.OpenFile(p.Out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, err
	}
	// #nosec G304
	errF, err := os.OpenFile(p.Err, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return out, errF, nil
}
