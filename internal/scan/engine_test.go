package scan

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/risk"
)

type stub struct {
	desc     module.Descriptor
	err      error
	findings []core.Finding
}

func (s stub) Descriptor() module.Descriptor { return s.desc }

func (s stub) Collect(context.Context, core.Target, module.Env) (core.RawResult, error) {
	return core.RawResult{Payload: "ok"}, s.err
}

func (s stub) Analyze(core.RawResult) ([]core.Finding, error) { return s.findings, nil }

func quota() ratelimit.Quota { return ratelimit.Quota{RequestsPerSecond: 1000, Burst: 10} }

func testEngine(t *testing.T, modules []config.ModuleConfig) *Engine {
	t.Helper()
	reg, err := module.NewRegistry(
		stub{desc: module.Descriptor{ID: "dns", Source: "dns", Quota: quota()}, findings: []core.Finding{
			{Category: core.CategoryDNS, Severity: core.SeverityInfo, Title: "Name servers", Confidence: 1},
			{Category: core.CategoryDNS, Severity: core.SeverityInfo, Title: "Mail exchangers", Confidence: 1},
		}},
		stub{desc: module.Descriptor{ID: "breach_check", Source: "hibp", KeyEnv: "HIBP_API_KEY", Quota: quota()}, findings: []core.Finding{
			{Category: core.CategoryBreach, Severity: core.SeverityHigh, Title: "Domain found in 1 breach", Observable: "ExampleBreach", Confidence: 0.9},
		}},
		stub{desc: module.Descriptor{ID: "shodan_passive", Source: "shodan", RequiresKey: true, KeyEnv: "SHODAN_API_KEY", Quota: quota()}},
		stub{desc: module.Descriptor{ID: "whois", Source: "whois", Quota: quota()}, err: errors.New("connection refused")},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	reg.Getenv = func(string) string { return "" }

	cfg := config.Default()
	cfg.Target.Domain = "example.com"
	cfg.Scan.OutputDir = t.TempDir()
	cfg.Scan.ScanTimeout = 10 * time.Second
	cfg.RateLimit.RetryAttempts = 1
	cfg.Modules = modules

	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Engine{Registry: reg, Config: cfg, Log: logrus.NewEntry(l)}
}

func TestEngineExampleScan(t *testing.T) {
	e := testEngine(t, []config.ModuleConfig{
		{ID: "dns", Enabled: true},
		{ID: "breach_check", Enabled: true},
		{ID: "shodan_passive", Enabled: true},
	})

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PersistErr != nil {
		t.Fatalf("PersistErr = %v", res.PersistErr)
	}
	rep := res.Report

	if got := len(rep.Findings()); got != 3 {
		t.Errorf("findings = %d, want 3", got)
	}
	if rep.Band() != risk.BandHigh {
		t.Errorf("band = %s (score %d), want high", rep.Band(), rep.Score())
	}

	want := []struct {
		id      string
		outcome core.Outcome
	}{
		{"dns", core.OutcomeSuccess},
		{"breach_check", core.OutcomeSuccess},
		{"shodan_passive", core.OutcomeSkipped},
	}
	statuses := rep.Statuses()
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %d, want %d", len(statuses), len(want))
	}
	for i, w := range want {
		if statuses[i].ModuleID != w.id || statuses[i].Outcome != w.outcome {
			t.Errorf("status %d = %s/%s, want %s/%s", i, statuses[i].ModuleID, statuses[i].Outcome, w.id, w.outcome)
		}
	}

	if s := statuses[2]; s.Error != "" || s.Findings != 0 {
		t.Errorf("missing-key skip = %+v, want no error and no findings", s)
	}
	if first := rep.Findings()[0]; first.Severity != core.SeverityHigh {
		t.Errorf("first finding severity = %s, want high", first.Severity)
	}
	if len(res.Paths) != 1 {
		t.Fatalf("paths = %v", res.Paths)
	}
	if _, err := os.Stat(res.Paths[0]); err != nil {
		t.Errorf("report file missing: %v", err)
	}
}

func TestEngineModuleFailureStillReports(t *testing.T) {
	e := testEngine(t, []config.ModuleConfig{
		{ID: "whois", Enabled: true},
		{ID: "dns", Enabled: true},
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	statuses := res.Report.Statuses()
	if statuses[0].Outcome != core.OutcomeFailed || statuses[1].Outcome != core.OutcomeSuccess {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestEngineConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Engine)
	}{
		{"unknown module", func(e *Engine) {
			e.Config.Modules = []config.ModuleConfig{{ID: "port_scan", Enabled: true}}
		}},
		{"missing domain", func(e *Engine) { e.Config.Target.Domain = "" }},
		{"ip target", func(e *Engine) { e.Config.Target.Domain = "192.0.2.1" }},
		{"bad concurrency", func(e *Engine) { e.Config.Scan.MaxConcurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(t, nil)
			tt.mutate(e)
			res, err := e.Run(context.Background())
			if !core.IsKind(err, core.KindConfig) {
				t.Errorf("Run() error = %v, want config error", err)
			}
			if res != nil {
				t.Error("no report may be produced on config errors")
			}
		})
	}
}

func TestEnginePersistenceFailure(t *testing.T) {
	e := testEngine(t, []config.ModuleConfig{{ID: "dns", Enabled: true}})
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	e.Config.Scan.OutputDir = filepath.Join(blocker, "reports")

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !core.IsKind(res.PersistErr, core.KindPersistence) {
		t.Errorf("PersistErr = %v, want persistence error", res.PersistErr)
	}
	if res.Report == nil || len(res.Report.Findings()) != 2 {
		t.Error("report must survive a persistence failure")
	}
}
