// Package config loads the bridge's YAML configuration file (spec.md
// §6 "Configuration keys"), generalising the teacher's Config/Unmarshal/
// LoadConfigFile trio to the svn.* and remote.<name>.* keys this bridge
// needs instead of gitp4transfer's branch/typemap settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Eol is the end-of-line conversion applied to text files on push
// (spec.md §6, svn.eol).
type Eol string

const (
	EolUnset  Eol = "unset"
	EolLF     Eol = "lf"
	EolCRLF   Eol = "crlf"
	EolNative Eol = "native"
)

func (e Eol) valid() bool {
	switch e {
	case "", EolUnset, EolLF, EolCRLF, EolNative:
		return true
	default:
		return false
	}
}

// Remote is one `remote.<name>` block: its last-fetched revision
// ceiling, refspec map entries and excluded path globs.
type Remote struct {
	Name    string   `yaml:"-"`
	MaxRev  int64    `yaml:"maxrev"`
	Map     []string `yaml:"map"`     // e.g. "branches/*:refs/svn/*"
	Exclude []string `yaml:"exclude"` // path globs dropped from every fetch
}

// Config is the parsed contents of .gitsvn.yaml.
type Config struct {
	Svn struct {
		Eol      Eol    `yaml:"eol"`
		EmptyMsg string `yaml:"emptymsg"`
		GCPeriod int    `yaml:"gcperiod"`
		Authors  string `yaml:"authors"`
	} `yaml:"svn"`

	Remotes map[string]*Remote `yaml:"remote"`
}

// DefaultGCPeriod matches the teacher's journal-rotation default period,
// repurposed here as "commits per maintenance cycle" (spec.md §6).
const DefaultGCPeriod = 1000

// Unmarshal parses a YAML document into a Config, applying defaults and
// validating every key.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{}
	cfg.Svn.GCPeriod = DefaultGCPeriod
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like refspecs)", err)
	}
	for name, r := range cfg.Remotes {
		if r == nil {
			r = &Remote{}
			cfg.Remotes[name] = r
		}
		r.Name = name
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses filename.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	cfg, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Svn.Eol.valid() {
		return fmt.Errorf("svn.eol must be one of lf, crlf, native, unset: got %q", c.Svn.Eol)
	}
	if c.Svn.GCPeriod < 0 {
		return fmt.Errorf("svn.gcperiod must not be negative")
	}
	for name, r := range c.Remotes {
		if r.MaxRev < 0 {
			return fmt.Errorf("remote.%s.maxrev must not be negative", name)
		}
		for _, m := range r.Map {
			if !strings.Contains(m, ":") {
				return fmt.Errorf("remote.%s.map entry %q must be 'path-glob:refspec'", name, m)
			}
		}
		for _, g := range r.Exclude {
			if _, err := filepath.Match(g, "probe"); err != nil {
				return fmt.Errorf("remote.%s.exclude entry %q is not a valid glob: %v", name, g, err)
			}
		}
	}
	return nil
}

// Remote looks up a named remote, returning ok=false if it is not
// configured.
func (c *Config) Remote(name string) (*Remote, bool) {
	r, ok := c.Remotes[name]
	return r, ok
}
