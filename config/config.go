// Package config loads deet's config.yml.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "config.yml"

	EnvLogLevel = "DBGLOGLV"
	EnvEntry    = "DEET_ENTRY"

	DefaultPrompt           = "(deet) "
	DefaultSourceListLines  = 6
	DefaultDisassembleCount = 8
)

// Config holds the user's settings. EntryFunction empty means the binary
// decides (main.main for Go programs, main otherwise).
type Config struct {
	LogLevel         string   `yaml:"log-level"`
	LogHTTPAddr      string   `yaml:"log-http-addr"`
	EntryFunction    string   `yaml:"entry-function"`
	Prompt           string   `yaml:"prompt"`
	SourceListLines  int      `yaml:"source-list-lines"`
	DisassembleCount int      `yaml:"disassemble-count"`
	Breakpoints      []string `yaml:"breakpoints"`
}

// Defaults is the configuration used when no file or variable sets a field.
func Defaults() *Config {
	return &Config{
		Prompt:           DefaultPrompt,
		SourceListLines:  DefaultSourceListLines,
		DisassembleCount: DefaultDisassembleCount,
	}
}

// Path returns the first config file location that applies: explicit, then
// $XDG_CONFIG_HOME/deet, then ~/.config/deet. It is empty if none can be
// derived.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "deet", FileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deet", FileName)
}

// Load reads the config file found by Path and applies environment
// overrides. A missing file yields the defaults, except that a missing
// explicit file is an error.
func Load(explicit string) (*Config, error) {
	cfg := Defaults()
	path := Path(explicit)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse %s", path)
			}
		case os.IsNotExist(err) && explicit == "":
		default:
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	cfg.mergeEnv()
	cfg.fill()
	return cfg, nil
}

func (c *Config) mergeEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvEntry); v != "" {
		c.EntryFunction = v
	}
}

// fill puts defaults back for keys the file set to zero values.
func (c *Config) fill() {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.SourceListLines <= 0 {
		c.SourceListLines = DefaultSourceListLines
	}
	if c.DisassembleCount <= 0 {
		c.DisassembleCount = DefaultDisassembleCount
	}
}
