package config

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Paths are the absolute filesystem locations a run works in.
type Paths struct {
	DataDir   string
	StatePath string
	LogDir    string
	RunDir    string
}

// Dirs returns every directory the run needs, including the one holding the
// state file.
func (p Paths) Dirs() []string {
	dirs := []string{p.DataDir, p.LogDir, p.RunDir}
	stateDir := filepath.Dir(p.StatePath)
	for _, d := range dirs {
		if d == stateDir {
			return dirs
		}
	}
	return append(dirs, stateDir)
}

// BootstrapContext is the immutable snapshot a run is built from. Accessors
// return copies, so it may be shared across steps without locking.
type BootstrapContext struct {
	runID     string
	createdAt time.Time
	paths     Paths
	values    map[string]string
	settings  Settings
}

func newBootstrapContext(paths Paths, values map[string]string, settings Settings) *BootstrapContext {
	settings.RequiredBinaries = append([]string(nil), settings.RequiredBinaries...)
	return &BootstrapContext{
		runID:     uuid.NewString(),
		createdAt: time.Now().UTC(),
		paths:     paths,
		values:    values,
		settings:  settings,
	}
}

// RunID uniquely identifies this bootstrap run.
func (c *BootstrapContext) RunID() string { return c.runID }

// CreatedAt is when the context was built.
func (c *BootstrapContext) CreatedAt() time.Time { return c.createdAt }

// Paths returns the resolved paths.
func (c *BootstrapContext) Paths() Paths { return c.paths }

// Settings returns a copy of the typed settings.
func (c *BootstrapContext) Settings() Settings {
	s := c.settings
	s.RequiredBinaries = append([]string(nil), c.settings.RequiredBinaries...)
	return s
}

// Get returns the resolved value for key. Keys are case-insensitive.
func (c *BootstrapContext) Get(key string) (string, bool) {
	v, ok := c.values[strings.ToLower(key)]
	return v, ok
}

// GetString returns the value for key or def when unset.
func (c *BootstrapContext) GetString(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// GetBool parses the value for key as a boolean, returning def when unset or
// unparsable.
func (c *BootstrapContext) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetInt parses the value for key as an integer, returning def when unset or
// unparsable.
func (c *BootstrapContext) GetInt(key string, def int) int {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Keys returns every resolved key in lexical order.
func (c *BootstrapContext) Keys() []string {
	return sortedKeys(c.values)
}

// Values returns a copy of the resolved overlay.
func (c *BootstrapContext) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
