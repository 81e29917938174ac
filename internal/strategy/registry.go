// Package strategy holds the strategy registry and the built-in strategies.
// Each built-in registers itself under a name per stage kind; the binary
// picks one per kind from configuration.
package strategy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/local/pagetrans/internal/stage"
)

// Params are the string settings a factory reads, keyed like the
// environment (LLM_API_KEY, BLOB_THRESHOLD, ...).
type Params map[string]string

func (p Params) String(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(p[key])); err == nil {
		return v
	}
	return def
}

func (p Params) Duration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(p[key])); err == nil {
		return v
	}
	return def
}

// Factory builds a strategy from params. Factories must not do slow work;
// heavy resources belong in Load.
type Factory func(Params) (stage.Model, error)

var (
	mu        sync.RWMutex
	factories = map[stage.Kind]map[string]Factory{}
)

// Register adds a factory for kind under name. Registering the same name
// twice panics.
func Register(kind stage.Kind, name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	byName := factories[kind]
	if byName == nil {
		byName = map[string]Factory{}
		factories[kind] = byName
	}
	if _, dup := byName[name]; dup {
		panic(fmt.Sprintf("strategy: %s %q registered twice", kind, name))
	}
	byName[name] = f
}

// Build creates the strategy registered for kind under name.
func Build(kind stage.Kind, name string, params Params) (stage.Model, error) {
	mu.RLock()
	f, ok := factories[kind][name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s strategy named %q (have %s)", kind, name, strings.Join(Names(kind), ", "))
	}
	m, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("build %s strategy %q: %w", kind, name, err)
	}
	if !stage.Supports(kind, m) {
		return nil, fmt.Errorf("strategy %q does not implement %s", name, kind)
	}
	return m, nil
}

// Names lists the strategies registered for kind, sorted.
func Names(kind stage.Kind) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories[kind]))
	for name := range factories[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
