// Package config loads and hot-reloads Ordinance's YAML configuration
// document: the core scheduler cadence, the status-viewer bind address,
// which log sinks to enable at boot and their settings, and per-plugin
// configuration overrides.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ordinance/internal/errs"
)

// Config is the decoded configuration document (spec.md §6's key table).
type Config struct {
	Core    CoreConfig               `yaml:"core"`
	API     APIConfig                `yaml:"api"`
	Writers WritersConfig            `yaml:"writers"`
	Plugin  map[string]map[string]any `yaml:"plugin"`
}

// CoreConfig holds the tick/subtick cadence overrides.
type CoreConfig struct {
	SchedulerTick    *float64 `yaml:"scheduler_tick"`
	SchedulerSubtick *float64 `yaml:"scheduler_subtick"`
}

// APIConfig holds the (out-of-scope-for-execution, but still parsed)
// status-viewer bind address.
type APIConfig struct {
	HTTPServer HTTPServerConfig `yaml:"http_server"`
}

// HTTPServerConfig is the status viewer's bind address.
type HTTPServerConfig struct {
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
}

// WritersConfig lists which sinks to enable at boot and carries each
// sink's own configuration mapping.
type WritersConfig struct {
	Enabled []string                  `yaml:"enabled"`
	Sinks   map[string]map[string]any `yaml:"-"`
}

// UnmarshalYAML splits "enabled" (a recognized key) from every other
// key in the writers mapping, which is per-sink configuration keyed by
// sink name.
func (w *WritersConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}
	w.Sinks = make(map[string]map[string]any)
	for key, node := range raw {
		if key == "enabled" {
			if err := node.Decode(&w.Enabled); err != nil {
				return err
			}
			continue
		}
		var sinkConfig map[string]any
		if err := node.Decode(&sinkConfig); err != nil {
			return err
		}
		w.Sinks[key] = sinkConfig
	}
	return nil
}

// TickInterval returns the configured scheduler_tick, or fallback if
// unset.
func (c CoreConfig) TickInterval(fallback time.Duration) time.Duration {
	if c.SchedulerTick == nil {
		return fallback
	}
	return time.Duration(*c.SchedulerTick * float64(time.Second))
}

// SubtickInterval returns the configured scheduler_subtick, or fallback
// if unset.
func (c CoreConfig) SubtickInterval(fallback time.Duration) time.Duration {
	if c.SchedulerSubtick == nil {
		return fallback
	}
	return time.Duration(*c.SchedulerSubtick * float64(time.Second))
}

// Load reads and parses the configuration document at path. A missing
// file fails with ConfigNotFound; a malformed document fails with
// ConfigSyntaxError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.ConfigNotFound, err, "config file %s", path)
		}
		return nil, errs.Newf(errs.ConfigNotFound, err, "read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Newf(errs.ConfigSyntaxError, err, "parse config %s", path)
	}
	return &cfg, nil
}

// PluginConfig returns the user override mapping for qname, or nil if
// none is configured.
func (c *Config) PluginConfig(qname string) map[string]any {
	if c == nil {
		return nil
	}
	return c.Plugin[qname]
}
