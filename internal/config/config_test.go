package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKeepsModuleOrder(t *testing.T) {
	path := writeConfig(t, `
target:
  domain: example.com
  organization: Example Inc
scan:
  max_concurrency: 2
  scan_timeout: 90s
  formats: [json, txt]
rate_limit:
  requests_per_second: 5
modules:
  shodan_passive:
    enabled: true
    api_key: abc
    rate_limit:
      requests_per_second: 1
  dns:
    timeout: 5s
  whois:
    enabled: false
  google_dorking:
    options:
      cx: engine-id
      dorks: ["filetype:pdf", "inurl:admin"]
`)

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	wantOrder := []string{"shodan_passive", "dns", "whois", "google_dorking"}
	if len(cfg.Modules) != len(wantOrder) {
		t.Fatalf("got %d modules, want %d", len(cfg.Modules), len(wantOrder))
	}
	for i, id := range wantOrder {
		if cfg.Modules[i].ID != id {
			t.Errorf("module[%d] = %s, want %s", i, cfg.Modules[i].ID, id)
		}
	}

	shodan := cfg.Modules[0]
	if !shodan.Enabled || shodan.APIKey != "abc" {
		t.Errorf("shodan = %+v", shodan)
	}
	if shodan.RateLimit == nil || shodan.RateLimit.RequestsPerSecond != 1 {
		t.Errorf("shodan rate limit = %+v", shodan.RateLimit)
	}
	if !cfg.Modules[1].Enabled {
		t.Error("module without enabled key should default to enabled")
	}
	if cfg.Modules[1].Timeout != 5*time.Second {
		t.Errorf("dns timeout = %v", cfg.Modules[1].Timeout)
	}
	if cfg.Modules[2].Enabled {
		t.Error("whois should be disabled")
	}

	dork := cfg.Modules[3]
	if dork.Option("cx", "") != "engine-id" {
		t.Errorf("cx option = %q", dork.Option("cx", ""))
	}
	if got := dork.StringsOption("dorks", nil); len(got) != 2 {
		t.Errorf("dorks = %v", got)
	}

	if cfg.Target.Domain != "example.com" || cfg.Target.Organization != "Example Inc" {
		t.Errorf("target = %+v", cfg.Target)
	}
	if cfg.Scan.MaxConcurrency != 2 || cfg.Scan.ScanTimeout != 90*time.Second {
		t.Errorf("scan = %+v", cfg.Scan)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 {
		t.Errorf("requests_per_second = %v", cfg.RateLimit.RequestsPerSecond)
	}
	if cfg.RateLimit.RetryAttempts != 3 {
		t.Errorf("retry_attempts default = %d, want 3", cfg.RateLimit.RetryAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("optional Load() error = %v", err)
	}
	if cfg.Scan.MaxConcurrency != 4 || len(cfg.Modules) != 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	if _, err := Load(path, false); !core.IsKind(err, core.KindConfig) {
		t.Errorf("required Load() error = %v, want config error", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PASSIVENIO_SCAN_MAX_CONCURRENCY", "9")
	path := writeConfig(t, "scan:\n  max_concurrency: 2\n")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scan.MaxConcurrency != 9 {
		t.Errorf("max_concurrency = %d, want env override 9", cfg.Scan.MaxConcurrency)
	}
}

func TestLoadRejectsBadModules(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"list instead of mapping", "modules:\n  - whois\n  - dns\n"},
		{"bad timeout", "modules:\n  dns:\n    timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), false)
			if !core.IsKind(err, core.KindConfig) {
				t.Errorf("Load() error = %v, want config error", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero concurrency", func(c *Config) { c.Scan.MaxConcurrency = 0 }, true},
		{"zero timeout", func(c *Config) { c.Scan.ScanTimeout = 0 }, true},
		{"xml format", func(c *Config) { c.Scan.Formats = []string{"xml"} }, true},
		{"jitter above one", func(c *Config) { c.RateLimit.Jitter = 2 }, true},
		{"duplicate module", func(c *Config) {
			c.Modules = []ModuleConfig{{ID: "dns"}, {ID: "dns"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := Default()
	p := cfg.RateLimit.RetryPolicy()
	if p.MaxAttempts != 3 || p.BaseDelay != 2*time.Second || p.MaxDelay != 30*time.Second {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}
