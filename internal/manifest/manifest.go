// Package manifest parses and validates a plugin bundle's plugin.yaml
// and implements the deep-merge of a bundle's default configuration
// under caller-supplied overrides.
package manifest

import (
	"os"

	"gopkg.in/yaml.v3"

	"ordinance/internal/errs"
)

// Manifest is the decoded plugin.yaml document. EntryFile is the only
// required key; the rest default to nil/empty when absent.
type Manifest struct {
	EntryFile     string         `yaml:"entry_file"`
	Name          *string        `yaml:"name"`
	Author        *string        `yaml:"author"`
	Description   *string        `yaml:"description"`
	Version       *string        `yaml:"version"`
	DefaultConfig map[string]any `yaml:"default_config"`
}

// Load reads and parses the manifest at path. A missing or malformed
// entry_file fails with PluginInvalid.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Newf(errs.PluginInvalid, err, "read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errs.Newf(errs.PluginInvalid, err, "parse manifest %s", path)
	}
	if m.EntryFile == "" {
		return nil, errs.New(errs.PluginInvalid, "manifest missing required entry_file", nil)
	}
	return &m, nil
}

// Merge deep-merges override on top of base: mapping branches recurse,
// and on a leaf conflict override wins. Neither argument is mutated;
// the result is a freshly allocated map tree. A nil base or override is
// treated as an empty map.
func Merge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = cloneValue(v)
	}
	for k, overrideVal := range override {
		baseVal, exists := result[k]
		if !exists {
			result[k] = cloneValue(overrideVal)
			continue
		}
		baseMap, baseIsMap := baseVal.(map[string]any)
		overrideMap, overrideIsMap := overrideVal.(map[string]any)
		if baseIsMap && overrideIsMap {
			result[k] = Merge(baseMap, overrideMap)
		} else {
			result[k] = cloneValue(overrideVal)
		}
	}
	return result
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return Merge(vv, nil)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return vv
	}
}
