package module

import (
	"fmt"
	"os"
	"strings"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
)

// Registry is the catalog of known modules in declaration order.
type Registry struct {
	mods []Module
	byID map[string]Module

	// Getenv resolves credentials; defaults to os.Getenv.
	Getenv func(string) string
}

func NewRegistry(mods ...Module) (*Registry, error) {
	r := &Registry{byID: map[string]Module{}, Getenv: os.Getenv}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(m Module) error {
	d := m.Descriptor()
	if d.ID == "" {
		return fmt.Errorf("module without id: %T", m)
	}
	if _, dup := r.byID[d.ID]; dup {
		return fmt.Errorf("module %q registered twice", d.ID)
	}
	r.byID[d.ID] = m
	r.mods = append(r.mods, m)
	return nil
}

func (r *Registry) Get(id string) (Module, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Catalog lists every descriptor in declaration order.
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(r.mods))
	for _, m := range r.mods {
		out = append(out, m.Descriptor())
	}
	return out
}

// Entry is one attempted module of a plan.
type Entry struct {
	Module Module
	Config config.ModuleConfig
	APIKey string
	// Skipped entries are reported without running.
	Skipped bool
	Reason  string
}

func (e Entry) ID() string { return e.Module.Descriptor().ID }

// Plan is the ordered set of modules attempted in a scan.
type Plan struct {
	Entries []Entry
}

// Order maps module IDs to their declaration position.
func (p Plan) Order() map[string]int {
	out := make(map[string]int, len(p.Entries))
	for i, e := range p.Entries {
		out[e.ID()] = i
	}
	return out
}

// Runnable counts entries that will actually run.
func (p Plan) Runnable() int {
	n := 0
	for _, e := range p.Entries {
		if !e.Skipped {
			n++
		}
	}
	return n
}

// Resolve turns the configured modules into a plan. Unknown IDs are a
// config error. Disabled modules are left out. Modules missing a required
// credential stay in the plan as skipped. With no modules configured the
// whole catalog runs with default settings.
func (r *Registry) Resolve(cfg *config.Config) (Plan, error) {
	configured := cfg.Modules
	if len(configured) == 0 {
		for _, m := range r.mods {
			configured = append(configured, config.ModuleConfig{ID: m.Descriptor().ID, Enabled: true})
		}
	}

	var plan Plan
	for _, mc := range configured {
		m, ok := r.byID[mc.ID]
		if !ok {
			return Plan{}, core.ConfigError("registry", fmt.Sprintf("unknown module %q (known: %s)", mc.ID, strings.Join(r.ids(), ", ")), nil)
		}
		if !mc.Enabled {
			continue
		}
		d := m.Descriptor()
		entry := Entry{Module: m, Config: mc, APIKey: r.apiKey(mc, d)}
		if d.RequiresKey && entry.APIKey == "" {
			entry.Skipped = true
			entry.Reason = "missing API key"
			if d.KeyEnv != "" {
				entry.Reason += " (set api_key or " + d.KeyEnv + ")"
			}
		}
		plan.Entries = append(plan.Entries, entry)
	}
	return plan, nil
}

func (r *Registry) apiKey(mc config.ModuleConfig, d Descriptor) string {
	if k := strings.TrimSpace(mc.APIKey); k != "" {
		return k
	}
	if d.KeyEnv != "" && r.Getenv != nil {
		return strings.TrimSpace(r.Getenv(d.KeyEnv))
	}
	return ""
}

func (r *Registry) ids() []string {
	out := make([]string, 0, len(r.mods))
	for _, m := range r.mods {
		out = append(out, m.Descriptor().ID)
	}
	return out
}
