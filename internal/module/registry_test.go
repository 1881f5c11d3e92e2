package module

import (
	"context"
	"testing"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
)

type stubModule struct {
	desc Descriptor
}

func (s stubModule) Descriptor() Descriptor { return s.desc }

func (s stubModule) Collect(context.Context, core.Target, Env) (core.RawResult, error) {
	return core.RawResult{ModuleID: s.desc.ID}, nil
}

func (s stubModule) Analyze(core.RawResult) ([]core.Finding, error) { return nil, nil }

func newTestRegistry(t *testing.T, env map[string]string) *Registry {
	t.Helper()
	r, err := NewRegistry(
		stubModule{Descriptor{ID: "whois", Source: "whois"}},
		stubModule{Descriptor{ID: "dns", Source: "dns"}},
		stubModule{Descriptor{ID: "shodan_passive", Source: "shodan", RequiresKey: true, KeyEnv: "SHODAN_API_KEY"}},
		stubModule{Descriptor{ID: "breach_check", Source: "hibp", KeyEnv: "HIBP_API_KEY"}},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	r.Getenv = func(k string) string { return env[k] }
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		stubModule{Descriptor{ID: "dns"}},
		stubModule{Descriptor{ID: "dns"}},
	)
	if err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestResolveFollowsConfigOrder(t *testing.T) {
	r := newTestRegistry(t, nil)
	cfg := &config.Config{Modules: []config.ModuleConfig{
		{ID: "dns", Enabled: true},
		{ID: "whois", Enabled: false},
		{ID: "shodan_passive", Enabled: true},
		{ID: "breach_check", Enabled: true},
	}}

	plan, err := r.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []struct {
		id      string
		skipped bool
	}{
		{"dns", false},
		{"shodan_passive", true},
		{"breach_check", false},
	}
	if len(plan.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(plan.Entries), len(want))
	}
	for i, w := range want {
		e := plan.Entries[i]
		if e.ID() != w.id || e.Skipped != w.skipped {
			t.Errorf("entry %d = %s skipped=%v, want %s skipped=%v", i, e.ID(), e.Skipped, w.id, w.skipped)
		}
	}
	if plan.Runnable() != 2 {
		t.Errorf("Runnable() = %d, want 2", plan.Runnable())
	}
	if plan.Order()["breach_check"] != 2 {
		t.Errorf("Order() = %v", plan.Order())
	}
}

func TestResolveUnknownModule(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.Resolve(&config.Config{Modules: []config.ModuleConfig{{ID: "port_scan", Enabled: true}}})
	if !core.IsKind(err, core.KindConfig) {
		t.Errorf("Resolve() error = %v, want config error", err)
	}
}

func TestResolveKeyFromEnvironment(t *testing.T) {
	r := newTestRegistry(t, map[string]string{"SHODAN_API_KEY": "env-key", "HIBP_API_KEY": "hibp"})
	cfg := &config.Config{Modules: []config.ModuleConfig{
		{ID: "shodan_passive", Enabled: true},
		{ID: "breach_check", Enabled: true, APIKey: "configured"},
	}}

	plan, err := r.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if plan.Entries[0].Skipped || plan.Entries[0].APIKey != "env-key" {
		t.Errorf("shodan entry = %+v", plan.Entries[0])
	}
	if plan.Entries[1].APIKey != "configured" {
		t.Errorf("config api_key should win over env, got %q", plan.Entries[1].APIKey)
	}
}

func TestResolveDefaultsToCatalog(t *testing.T) {
	r := newTestRegistry(t, nil)
	plan, err := r.Resolve(&config.Config{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(plan.Entries) != 4 {
		t.Fatalf("got %d entries, want whole catalog", len(plan.Entries))
	}
	for i, d := range r.Catalog() {
		if plan.Entries[i].ID() != d.ID {
			t.Errorf("entry %d = %s, want %s", i, plan.Entries[i].ID(), d.ID)
		}
	}
}
