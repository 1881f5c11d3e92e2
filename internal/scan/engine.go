package scan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shii9/PassiveNio/internal/aggregate"
	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/orchestrator"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/report"
)

// Engine runs one scan from configuration to persisted report.
type Engine struct {
	Registry *module.Registry
	Config   *config.Config
	Log      *logrus.Entry
	// HTTPTimeout bounds single source requests; zero uses the client default.
	HTTPTimeout time.Duration
	Now         func() time.Time
}

// Result is a finished scan. PersistErr is set when the report could not
// be written; the report itself is still complete.
type Result struct {
	Report     *report.Report
	Paths      []string
	PersistErr error
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Prepare validates the configuration and resolves the plan. Every error
// it returns is a config error and no module has run yet.
func (e *Engine) Prepare() (core.Target, module.Plan, error) {
	if err := e.Config.Validate(); err != nil {
		return core.Target{}, module.Plan{}, err
	}
	target, err := core.NewTarget(e.Config.Target.Domain, e.Config.Target.Organization)
	if err != nil {
		return core.Target{}, module.Plan{}, err
	}
	plan, err := e.Registry.Resolve(e.Config)
	if err != nil {
		return core.Target{}, module.Plan{}, err
	}
	return target, plan, nil
}

// Run executes the scan. It fails only on configuration errors; once
// modules start a report is always returned.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	target, plan, err := e.Prepare()
	if err != nil {
		return nil, err
	}

	scanID := newScanID(e.now())
	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"scan_id": scanID, "target": target.Domain})
	log.WithFields(logrus.Fields{
		"modules":         len(plan.Entries),
		"runnable":        plan.Runnable(),
		"max_concurrency": e.Config.Scan.MaxConcurrency,
		"scan_timeout":    e.Config.Scan.ScanTimeout,
	}).Info("Starting passive scan")

	orch := &orchestrator.Orchestrator{
		MaxConcurrency: e.Config.Scan.MaxConcurrency,
		ScanTimeout:    e.Config.Scan.ScanTimeout,
		Retry:          e.Config.RateLimit.RetryPolicy(),
		Limiters:       ratelimit.NewSet(),
		DefaultQuota:   e.Config.GlobalQuota(),
		HTTPTimeout:    e.HTTPTimeout,
		KeepRaw:        e.Config.Scan.KeepRaw,
		Log:            log,
	}

	started := e.now()
	results := orch.Run(ctx, target, plan)
	finished := e.now()

	var (
		statuses []core.ModuleStatus
		findings []core.Finding
		raw      []core.RawResult
	)
	for _, r := range results {
		statuses = append(statuses, r.Status)
		findings = append(findings, r.Findings...)
		if r.Raw != nil {
			raw = append(raw, *r.Raw)
		}
	}
	merged := aggregate.New(plan.Order()).Aggregate(findings)

	rep := report.Build(report.Input{
		ScanID:     scanID,
		Target:     target,
		StartedAt:  started,
		FinishedAt: finished,
		Statuses:   statuses,
		Findings:   merged,
		Raw:        raw,
	})
	log.WithFields(logrus.Fields{
		"findings":   len(merged),
		"duplicates": len(findings) - len(merged),
		"risk_score": rep.Score(),
		"risk_band":  rep.Band(),
	}).Info("Scan finished")

	res := &Result{Report: rep}
	w := report.Writer{OutDir: e.Config.Scan.OutputDir, Formats: e.Config.Scan.Formats}
	res.Paths, res.PersistErr = w.Write(rep)
	if res.PersistErr != nil {
		log.WithError(res.PersistErr).Error("Could not persist report")
	}
	return res, nil
}

func newScanID(now time.Time) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("scan-%d", now.UnixNano())
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(b))
}
