package ftq

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the queue geometry and timing knobs.
type Config struct {
	// Depth is the number of queue slots. Must be a power of 2.
	// Default: 32.
	Depth uint32 `json:"depth"`

	// Width is the fetch-block width in 2-byte sub-instruction offsets.
	// Must be a power of 2. Default: 16.
	Width uint32 `json:"width"`

	// BranchSlots is the branch-slot capacity of an FTB entry.
	// Default: 2.
	BranchSlots int `json:"branch_slots"`

	// UpdateCoolDown is the number of cycles the commit cursor holds
	// after producing a predictor-table update, avoiding read-after-
	// write races against the predictor's fixed write latency.
	// Default: 2.
	UpdateCoolDown uint32 `json:"update_cooldown"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Depth:          32,
		Width:          16,
		BranchSlots:    2,
		UpdateCoolDown: 2,
	}
}

// LoadConfig loads a Config from a JSON file. Missing fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read queue config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse queue config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize queue config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Depth == 0 || c.Depth&(c.Depth-1) != 0 {
		return fmt.Errorf("depth must be a power of 2, got %d", c.Depth)
	}
	if c.Width == 0 || c.Width&(c.Width-1) != 0 {
		return fmt.Errorf("width must be a power of 2, got %d", c.Width)
	}
	if c.BranchSlots < 1 {
		return fmt.Errorf("branch_slots must be >= 1, got %d", c.BranchSlots)
	}
	if uint32(c.BranchSlots) > c.Width {
		return fmt.Errorf("branch_slots must not exceed width")
	}
	return nil
}
