// Package config loads circuitsync.yaml, the optional per-project
// configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the project directory.
const FileName = "circuitsync.yaml"

// Config is the full configuration tree.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Sync    SyncConfig    `yaml:"sync"`
	Tool    ToolConfig    `yaml:"tool"`
}

// ProjectConfig names the schematic files.
type ProjectConfig struct {
	// Schematic is the root sheet file, relative to the config file.
	Schematic string `yaml:"schematic"`
	// Board is the .kicad_pcb to keep in sync; empty disables board sync.
	Board string `yaml:"board,omitempty"`
}

// SyncConfig tunes the merge behavior.
type SyncConfig struct {
	// Placement grid for parts arriving without layout, in millimeters.
	GridOriginX float64 `yaml:"grid_origin_x"`
	GridOriginY float64 `yaml:"grid_origin_y"`
	GridPitch   float64 `yaml:"grid_pitch"`
	GridColumns int     `yaml:"grid_columns"`
}

// ToolConfig locates kicad-cli.
type ToolConfig struct {
	Binary  string   `yaml:"binary,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Duration accepts Go duration strings ("30s", "2m") in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{Schematic: "main.kicad_sch"},
		Sync: SyncConfig{
			GridOriginX: 25.4,
			GridOriginY: 25.4,
			GridPitch:   25.4,
			GridColumns: 8,
		},
		Tool: ToolConfig{Timeout: Duration(time.Minute)},
	}
}

// Load reads a configuration file, layering it over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover loads the configuration for a project directory, falling back
// to defaults when no circuitsync.yaml is present.
func Discover(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}
