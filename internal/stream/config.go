// Package stream orchestrates isolated agent worktrees: one git
// worktree and branch per named stream, all drawing stories from a
// shared PRD checklist.
package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the config file looked up in the repo root.
const DefaultConfigName = "ralph.yml"

// Settings are project-wide knobs shared by all streams.
type Settings struct {
	// BaseBranch is the integration branch streams fork from and merge
	// back into. Default "main".
	BaseBranch string `yaml:"base_branch"`

	// WorktreeDir is where stream worktrees are created, relative to
	// the repo root. Default ".ralph/worktrees".
	WorktreeDir string `yaml:"worktree_dir"`

	// MergeStrategy is how completed branches reach the base branch.
	// Only "rebase" is supported.
	MergeStrategy string `yaml:"merge_strategy"`

	// AutoMerge merges a stream automatically when its stories finish.
	AutoMerge bool `yaml:"auto_merge"`

	// PRDFile is the shared story checklist, relative to the repo
	// root. Default "prd.md".
	PRDFile string `yaml:"prd_file"`

	// SharedFiles are copied from the repo root into each new
	// worktree on init (agent instructions, constraint docs).
	SharedFiles []string `yaml:"shared_files"`
}

// StreamConfig describes one named stream.
type StreamConfig struct {
	// Branch is the stream's working branch. Default "ralph/<name>".
	Branch string `yaml:"branch"`

	// Stories restricts the stream to these story IDs. Empty means the
	// stream may claim any pending story.
	Stories []string `yaml:"stories"`

	// Worktree overrides the worktree path, relative to the repo root.
	Worktree string `yaml:"worktree"`
}

// Config is the parsed ralph.yml.
type Config struct {
	Settings Settings                `yaml:"settings"`
	Streams  map[string]StreamConfig `yaml:"streams"`
}

// LoadConfig reads and validates a ralph.yml, applying defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.BaseBranch == "" {
		c.Settings.BaseBranch = "main"
	}
	if c.Settings.WorktreeDir == "" {
		c.Settings.WorktreeDir = filepath.Join(".ralph", "worktrees")
	}
	if c.Settings.MergeStrategy == "" {
		c.Settings.MergeStrategy = "rebase"
	}
	if c.Settings.PRDFile == "" {
		c.Settings.PRDFile = "prd.md"
	}
	for name, sc := range c.Streams {
		if sc.Branch == "" {
			sc.Branch = "ralph/" + name
		}
		if sc.Worktree == "" {
			sc.Worktree = filepath.Join(c.Settings.WorktreeDir, name)
		}
		c.Streams[name] = sc
	}
}

func (c *Config) validate() error {
	if len(c.Streams) == 0 {
		return fmt.Errorf("config declares no streams")
	}
	if c.Settings.MergeStrategy != "rebase" {
		return fmt.Errorf("unsupported merge strategy %q", c.Settings.MergeStrategy)
	}

	branches := map[string]string{}
	worktrees := map[string]string{}
	for name, sc := range c.Streams {
		if other, dup := branches[sc.Branch]; dup {
			return fmt.Errorf("streams %s and %s share branch %q", other, name, sc.Branch)
		}
		branches[sc.Branch] = name
		if other, dup := worktrees[sc.Worktree]; dup {
			return fmt.Errorf("streams %s and %s share worktree %q", other, name, sc.Worktree)
		}
		worktrees[sc.Worktree] = name
	}
	return nil
}

// Stream returns the named stream's config.
func (c *Config) Stream(name string) (StreamConfig, error) {
	sc, ok := c.Streams[name]
	if !ok {
		return StreamConfig{}, fmt.Errorf("unknown stream %q", name)
	}
	return sc, nil
}

// Names returns the stream names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Streams))
	for name := range c.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StarterConfig is written by `ralph init` when no config exists.
const StarterConfig = `settings:
  base_branch: main
  merge_strategy: rebase
  prd_file: prd.md

streams:
  alpha:
    stories: []
  beta:
    stories: []
`

// WriteStarterConfig creates a starter ralph.yml at path. Refuses to
// overwrite an existing file.
func WriteStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", filepath.Base(path))
	}
	return os.WriteFile(path, []byte(StarterConfig), 0644)
}
