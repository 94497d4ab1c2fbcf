// Package config loads the recognition core's static policy knobs: per
// module-type capture defaults and the platform flag controlling whether
// rejected stage-2 events notify the client. The deferred-stop delays are
// constants in internal/deferredstop, not configuration.
// Grounded on cmd/discord-voice-mcp/main.go's flag+env+godotenv wiring,
// extended with YAML for the structured per-module-type table.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ModuleTypeConfig is one module_type's platform policy.
type ModuleTypeConfig struct {
	SampleRate   int  `yaml:"sample_rate"`
	BitWidth     int  `yaml:"bit_width"`
	Channels     int  `yaml:"channels"`
	RingBufferKB int  `yaml:"ring_buffer_kb"`
	NotifySecondStageFailure bool `yaml:"notify_second_stage_failure"`
}

// Config is the process-wide configuration.
type Config struct {
	LogLevel    string                      `yaml:"log_level"`
	ModuleTypes map[string]ModuleTypeConfig `yaml:"module_types"`
}

// Default returns the built-in policy used when no config file is
// present, mirroring a single "gmm" module type at 16kHz mono.
func Default() Config {
	return Config{
		LogLevel: "info",
		ModuleTypes: map[string]ModuleTypeConfig{
			"gmm": {
				SampleRate:   16000,
				BitWidth:     16,
				Channels:     1,
				RingBufferKB: 64,
			},
		},
	}
}

// Load reads a YAML config file on top of Default(). A non-empty
// log_level replaces the default; a non-empty module_types table
// replaces the default table whole, and fields a module type omits are
// left zero. An empty path returns Default() unmodified.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if len(fileCfg.ModuleTypes) > 0 {
		cfg.ModuleTypes = fileCfg.ModuleTypes
	}
	return cfg, nil
}

// LoadFromEnv applies .env and environment variable overrides on top of
// a loaded config, the way cmd/discord-voice-mcp/main.go layers
// godotenv + os.Getenv over flags.
func LoadFromEnv(cfg Config) Config {
	_ = godotenv.Load()
	if lvl := os.Getenv("TRIGGERD_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg
}
