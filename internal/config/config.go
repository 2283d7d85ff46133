// Package config loads the YAML configuration file that sizes a run's
// physical memory, page size, shared regions, and per-process segment
// layout, merging it with any CLI-flag overrides cmd/virtos collects.
//
// Grounded on tinyrange-cc's config loader for the
// "defaults struct, then yaml.Unmarshal over a copy of it" pattern;
// biscuit has no equivalent since its limits (limits/limits.go) are
// compile-time constants, not a file an operator edits per run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is every boot-time tunable a run needs beyond the program
// files on the command line.
type Config struct {
	PhysicalMemory   int    `yaml:"physicalMemory"`
	PageSize         int    `yaml:"pageSize"`
	SharedRegionSize int    `yaml:"sharedRegionSize"`
	NumSharedRegions int    `yaml:"numSharedRegions"`
	DataSegmentSize  int    `yaml:"dataSegmentSize"`
	StackSegmentSize int    `yaml:"stackSegmentSize"`
	SwapDir          string `yaml:"swapDir"`
}

// Default returns the configuration a run uses when no file is given
// and no flag overrides a field.
func Default() Config {
	return Config{
		PhysicalMemory:   1 << 20,
		PageSize:         64,
		SharedRegionSize: 256,
		NumSharedRegions: 4,
		DataSegmentSize:  256,
		StackSegmentSize: 256,
		SwapDir:          ".",
	}
}

// Load reads and parses a YAML config file over Default(), so a file
// that sets only a handful of keys still yields a complete Config.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first configuration value that can't produce a
// working memory manager.
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize%4 != 0 {
		return fmt.Errorf("config: pageSize %d must be a positive multiple of 4", c.PageSize)
	}
	if c.PhysicalMemory <= 0 {
		return fmt.Errorf("config: physicalMemory must be positive")
	}
	if c.NumSharedRegions < 0 {
		return fmt.Errorf("config: numSharedRegions must not be negative")
	}
	return nil
}
