package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix scopes the environment overlay.
const DefaultEnvPrefix = "STAGEBOOT"

// SkipBinaryCheckEnv disables the required-binaries preflight when set to a
// true boolean value.
const SkipBinaryCheckEnv = DefaultEnvPrefix + "_SKIP_BINARY_CHECK"

// Settings is the typed view over the resolved overlay.
type Settings struct {
	// DataDir is the base directory; other paths derive from it when unset.
	DataDir string `mapstructure:"data_dir" validate:"required"`
	// StatePath is the SQLite file holding migration state.
	StatePath string `mapstructure:"state_path"`
	LogDir    string `mapstructure:"log_dir"`
	RunDir    string `mapstructure:"run_dir"`

	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=console json"`
		// File enables a JSON log file under LogDir.
		File bool `mapstructure:"file"`
	} `mapstructure:"log"`

	API struct {
		Enabled   bool    `mapstructure:"enabled"`
		Addr      string  `mapstructure:"addr" validate:"required_if=Enabled true"`
		RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"` // requests per second, 0 disables
		Burst     int     `mapstructure:"burst" validate:"gte=0"`
	} `mapstructure:"api"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`

	RequiredBinaries []string `mapstructure:"required_binaries"`
	SkipBinaryCheck  bool     `mapstructure:"skip_binary_check"`
}

// Options are the inputs to Build.
type Options struct {
	// ConfigFile is an optional YAML file; it is the lowest overlay.
	ConfigFile string
	// Defaults is the in-memory default overlay, above the file.
	Defaults map[string]string
	// EnvPrefix scopes the environment overlay. Empty means DefaultEnvPrefix.
	EnvPrefix string
	// Environ replaces os.Environ() when non-nil.
	Environ []string
	// Overrides is the command-line overlay, highest precedence.
	Overrides map[string]string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("state_path", "") // Empty = derive from data_dir
	v.SetDefault("log_dir", "")    // Empty = derive from data_dir
	v.SetDefault("run_dir", "")    // Empty = derive from data_dir
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", false)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", "127.0.0.1:8088")
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.burst", 100)
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("required_binaries", []string{})
	v.SetDefault("skip_binary_check", false)
}

// Build resolves all overlays into an immutable BootstrapContext.
func Build(opts Options) (*BootstrapContext, error) {
	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Path: opts.ConfigFile, Err: fmt.Errorf("failed to read config file: %w", err)}
		}
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	layers := []struct {
		name   string
		values map[string]string
	}{
		{"defaults", opts.Defaults},
		{"environment", EnvOverlay(prefix, environ)},
		{"command line", opts.Overrides},
	}
	for _, layer := range layers {
		nested, err := nest(layer.values)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("malformed %s overlay: %w", layer.name, err)}
		}
		if err := v.MergeConfigMap(nested); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("failed to merge %s overlay: %w", layer.name, err)}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("unable to decode config: %w", err)}
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}

	paths, err := resolvePaths(&settings)
	if err != nil {
		return nil, err
	}
	for _, dir := range paths.Dirs() {
		if err := checkWritable(dir); err != nil {
			return nil, &ConfigError{Path: dir, Err: err}
		}
	}

	return newBootstrapContext(paths, flatten(v), settings), nil
}

var validate = validator.New()

func validateSettings(s *Settings) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{
				Key: fe.Namespace(),
				Err: fmt.Errorf("failed validation %q (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &ConfigError{Err: err}
	}
	return nil
}

// resolvePaths derives unset paths from DataDir and makes all of them
// absolute.
func resolvePaths(s *Settings) (Paths, error) {
	dataDir, err := filepath.Abs(s.DataDir)
	if err != nil {
		return Paths{}, &ConfigError{Key: "data_dir", Path: s.DataDir, Err: err}
	}

	resolve := func(key, value, fallback string) (string, error) {
		if value == "" {
			return filepath.Join(dataDir, fallback), nil
		}
		abs, err := filepath.Abs(value)
		if err != nil {
			return "", &ConfigError{Key: key, Path: value, Err: err}
		}
		return abs, nil
	}

	p := Paths{DataDir: dataDir}
	if p.StatePath, err = resolve("state_path", s.StatePath, "stageboot.db"); err != nil {
		return Paths{}, err
	}
	if p.LogDir, err = resolve("log_dir", s.LogDir, "logs"); err != nil {
		return Paths{}, err
	}
	if p.RunDir, err = resolve("run_dir", s.RunDir, "run"); err != nil {
		return Paths{}, err
	}

	s.DataDir, s.StatePath, s.LogDir, s.RunDir = p.DataDir, p.StatePath, p.LogDir, p.RunDir
	return p, nil
}

// checkWritable verifies that dir, or its nearest existing ancestor, is a
// writable directory. Nothing is created except a short-lived probe file.
func checkWritable(dir string) error {
	current := dir
	for {
		info, err := os.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", current)
			}
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return fmt.Errorf("no existing ancestor for %s", dir)
		}
		current = parent
	}

	probe, err := os.CreateTemp(current, ".stageboot_write_test_*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", current, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// flatten renders every resolved key as a string. Slices are comma-joined.
func flatten(v *viper.Viper) map[string]string {
	out := make(map[string]string)
	for _, key := range v.AllKeys() {
		raw := v.Get(key)
		switch raw.(type) {
		case []interface{}, []string:
			out[key] = strings.Join(cast.ToStringSlice(raw), ",")
		default:
			out[key] = cast.ToString(raw)
		}
	}
	return out
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
