// Package project loads the project configuration that declares the
// compilation units and how they are built.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "mpptrack.toml"

const envPrefix = "MPPTRACK_"

// Config is the loaded project configuration.
type Config struct {
	// Root is the directory holding the configuration file. Relative paths
	// are resolved against it.
	Root string
	// Path is the absolute path of the configuration file.
	Path string

	Parallelism int            `koanf:"parallelism"`
	Verbosity   string         `koanf:"verbosity"`
	Log         LogConfig      `koanf:"log"`
	State       StateConfig    `koanf:"state"`
	Compiler    CompilerConfig `koanf:"compiler"`
	Units       []UnitConfig   `koanf:"units"`
}

// StateConfig locates the persisted build state.
type StateConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig selects the log format. Text is the default.
type LogConfig struct {
	JSON bool `koanf:"json"`
}

// CompilerConfig selects the compile backend.
type CompilerConfig struct {
	Backend string `koanf:"backend"`
	// Command is the shell command run by the exec backend.
	Command string `koanf:"command"`
}

// UnitConfig declares one compilation unit.
type UnitConfig struct {
	Module string `koanf:"module"`
	// Target defaults to "common".
	Target string `koanf:"target"`
	// Platform is empty for platform-independent units.
	Platform     string   `koanf:"platform"`
	Sources      []string `koanf:"sources"`
	Dependencies []string `koanf:"dependencies"`
}

// StateDir returns the absolute state directory.
func (c *Config) StateDir() string {
	return c.resolve(c.State.Dir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Root, path)
}

// Load reads the configuration file at path, falling back to DefaultFile in
// the working directory when path is empty.
// Priority: Flags > Env > .env file > Config File > Defaults
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	root := filepath.Dir(absPath)

	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	defaults := map[string]interface{}{
		"parallelism":      0,
		"verbosity":        "info",
		"log.json":         false,
		"state.dir":        ".mpptrack",
		"compiler.backend": "check",
		"compiler.command": "",
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(file.Provider(absPath), toml.Parser()); err != nil {
		if _, statErr := os.Stat(absPath); statErr != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", absPath, statErr)
		}
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	// MPPTRACK_COMPILER_BACKEND=exec sets compiler.backend.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Root = root
	cfg.Path = absPath

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("config %s declares no units", c.Path)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism)
	}
	for i, u := range c.Units {
		if strings.TrimSpace(u.Module) == "" {
			return fmt.Errorf("unit #%d has no module", i+1)
		}
		if len(u.Sources) == 0 {
			return fmt.Errorf("unit %s has no source roots", u.id())
		}
	}
	return nil
}

func (u UnitConfig) id() string {
	target := u.Target
	if target == "" {
		target = "common"
	}
	return u.Module + ":" + target
}

type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
