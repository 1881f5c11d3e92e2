package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

type moduleYAML struct {
	Enabled   *bool  `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	RateLimit *struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Timeout string         `yaml:"timeout"`
	Options map[string]any `yaml:"options"`
}

// parseModules walks the "modules:" mapping node by node; a plain map
// would lose the declared order.
func parseModules(data []byte) ([]ModuleConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.ConfigError("config", "failed to parse modules", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, core.ConfigError("config", "top level must be a mapping", nil)
	}

	var modules *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "modules" {
			modules = root.Content[i+1]
		}
	}
	if modules == nil || modules.Kind == yaml.ScalarNode && modules.Tag == "!!null" {
		return nil, nil
	}
	if modules.Kind != yaml.MappingNode {
		return nil, core.ConfigError("config", "modules must be a mapping of module id to settings", nil)
	}

	out := make([]ModuleConfig, 0, len(modules.Content)/2)
	for i := 0; i+1 < len(modules.Content); i += 2 {
		id := modules.Content[i].Value
		var raw moduleYAML
		if err := modules.Content[i+1].Decode(&raw); err != nil {
			return nil, core.ConfigError("config", fmt.Sprintf("invalid settings for module %q", id), err)
		}
		mc := ModuleConfig{
			ID:      id,
			Enabled: raw.Enabled == nil || *raw.Enabled,
			APIKey:  raw.APIKey,
			Options: raw.Options,
		}
		if raw.RateLimit != nil {
			mc.RateLimit = &ratelimit.Quota{
				RequestsPerSecond: raw.RateLimit.RequestsPerSecond,
				Burst:             raw.RateLimit.Burst,
			}
		}
		if raw.Timeout != "" {
			d, err := time.ParseDuration(raw.Timeout)
			if err != nil {
				return nil, core.ConfigError("config", fmt.Sprintf("invalid timeout for module %q", id), err)
			}
			mc.Timeout = d
		}
		out = append(out, mc)
	}
	return out, nil
}
