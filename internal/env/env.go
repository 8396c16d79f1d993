// Package env composes the environment handed to supervised children.
package env

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// Marker variables every supervised child sees. They are applied last and
// cannot be overridden by configuration.
const (
	ElevatedMarker   = "ANAK_EMAS"
	ProductionMarker = "MULYO_ENV"
	MaxMemoryMarker  = "MULYO_MAX_MEMORY_MB"
	GoMemLimit       = "GOMEMLIMIT"
)

type Var map[string]string

type Env struct {
	Var Var // overlay from configuration (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// Set sets an overlay variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// ForChild composes base OS env, then the configured overlay, then the
// per-process overlay, and finally the forced child markers. ${VAR}
// references are expanded once against the composed map and the result is
// sorted by key. maxMemoryMB > 0 also advertises the memory ceiling,
// including as a Go runtime soft limit.
func (e *Env) ForChild(overlay Var, maxMemoryMB int) []string {
	return e.compose(overlay, maxMemoryMB)
}

func (e *Env) compose(overlay Var, maxMemoryMB int) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(overlay)+4)
	for _, layer := range []Var{e.env, e.Var, overlay} {
		for k, v := range layer {
			if k != "" {
				m[k] = v
			}
		}
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	expanded[ElevatedMarker] = "true"
	expanded[ProductionMarker] = "production"
	if maxMemoryMB > 0 {
		n := strconv.Itoa(maxMemoryMB)
		expanded[MaxMemoryMarker] = n
		expanded[GoMemLimit] = n + "MiB"
	}
	return flatten(expanded)
}

func parse(list []string) Var {
	m := make(Var, len(list))
	for _, kv := range list {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

func flatten(m Var) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// expand replaces ${NAME} with its value from m. Unknown names are left as-is;
// substituted values are not expanded again.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
