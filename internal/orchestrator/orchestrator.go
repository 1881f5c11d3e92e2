package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

// Orchestrator runs the modules of a plan under bounded concurrency and a
// scan-wide deadline.
type Orchestrator struct {
	MaxConcurrency int
	ScanTimeout    time.Duration
	Retry          ratelimit.RetryPolicy
	Limiters       *ratelimit.Set
	// DefaultQuota applies to sources whose descriptor declares none.
	DefaultQuota ratelimit.Quota
	// HTTPTimeout bounds a single request of a source client.
	HTTPTimeout time.Duration
	KeepRaw     bool
	Log         *logrus.Entry
}

// Result is the settled state of one plan entry.
type Result struct {
	Status   core.ModuleStatus
	Findings []core.Finding
	Raw      *core.RawResult
}

type collected struct {
	raw      core.RawResult
	attempts int
	err      error
}

type analysis struct {
	findings []core.Finding
	err      error
}

// Run executes every entry of plan and returns one Result per entry in plan
// order. It returns only after every task has settled or been abandoned.
func (o *Orchestrator) Run(ctx context.Context, target core.Target, plan module.Plan) []Result {
	if o.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ScanTimeout)
		defer cancel()
	}
	limiters := o.Limiters
	if limiters == nil {
		limiters = ratelimit.NewSet()
	}
	for _, e := range plan.Entries {
		if e.Config.RateLimit != nil {
			limiters.Override(e.Module.Descriptor().Source, *e.Config.RateLimit)
		}
	}

	results := make([]Result, len(plan.Entries))
	var g errgroup.Group
	g.SetLimit(max(1, o.MaxConcurrency))

	for i, e := range plan.Entries {
		i, e := i, e
		if e.Skipped {
			results[i] = Result{Status: core.ModuleStatus{ModuleID: e.ID(), Outcome: core.OutcomeSkipped, Reason: e.Reason}}
			o.logger().WithField("module", e.ID()).Infof("Skipping module: %s", e.Reason)
			continue
		}
		g.Go(func() error {
			results[i] = o.runTask(ctx, target, e, limiters)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) logger() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (o *Orchestrator) runTask(ctx context.Context, target core.Target, e module.Entry, limiters *ratelimit.Set) Result {
	d := e.Module.Descriptor()
	start := time.Now()
	l := o.logger().WithFields(logrus.Fields{"module": d.ID, "source": d.Source})

	if e.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.Timeout)
		defer cancel()
	}

	quota := d.Quota
	if quota.RequestsPerSecond == 0 && quota.Burst == 0 {
		quota = o.DefaultQuota
	}
	lim := limiters.For(d.Source, quota)
	env := module.Env{
		Config:  e.Config,
		APIKey:  e.APIKey,
		Limiter: lim,
		Client:  source.NewClient(o.HTTPTimeout, lim, l),
		Log:     l,
	}

	status := core.ModuleStatus{ModuleID: d.ID}
	finish := func(outcome core.Outcome, err error) Result {
		status.Outcome = outcome
		status.Duration = time.Since(start)
		if err != nil {
			status.Error = err.Error()
		}
		fields := logrus.Fields{"outcome": outcome, "duration": status.Duration.Round(time.Millisecond), "attempts": status.Attempts}
		if err != nil {
			l.WithFields(fields).WithError(err).Warn("Module finished with errors")
		} else {
			l.WithFields(fields).WithField("findings", status.Findings).Info("Module execution complete")
		}
		return Result{Status: status}
	}

	l.Debug("Module started")

	// The collector writes into a buffered channel so an abandoned
	// goroutine never blocks.
	done := make(chan collected, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.WithField("stack", string(debug.Stack())).Error("Module panicked during collect")
				done <- collected{err: fmt.Errorf("collect panicked: %v", r)}
			}
		}()
		var raw core.RawResult
		attempts, err := ratelimit.Do(ctx, o.Retry, lim, func(ctx context.Context) error {
			r, err := e.Module.Collect(ctx, target, env)
			if err == nil {
				raw = r
			}
			return err
		})
		done <- collected{raw: raw, attempts: attempts, err: err}
	}()

	var c collected
	select {
	case <-ctx.Done():
		return finish(core.OutcomeTimeout, core.TimeoutError(d.ID, ctx.Err()))
	case c = <-done:
	}
	status.Attempts = c.attempts

	if c.err != nil {
		outcome := classify(ctx, c.err)
		return finish(outcome, c.err)
	}

	if c.raw.ModuleID == "" {
		c.raw.ModuleID = d.ID
	}
	if c.raw.CapturedAt.IsZero() {
		c.raw.CapturedAt = time.Now().UTC()
	}

	analyzed := make(chan analysis, 1)
	go func() {
		findings, err := analyze(e.Module, c.raw)
		analyzed <- analysis{findings: findings, err: err}
	}()
	var a analysis
	select {
	case <-ctx.Done():
		return finish(core.OutcomeTimeout, core.TimeoutError(d.ID, ctx.Err()))
	case a = <-analyzed:
	}
	if a.err != nil {
		return finish(core.OutcomeFailed, a.err)
	}

	findings, dropped := normalize(d.ID, c.raw, a.findings)
	outcome := core.OutcomeSuccess
	var partial error
	if len(c.raw.Errors) > 0 || dropped > 0 {
		outcome = core.OutcomePartial
		partial = partialReason(c.raw.Errors, dropped)
	}
	status.Findings = len(findings)
	res := finish(outcome, partial)
	res.Findings = findings
	if o.KeepRaw {
		raw := c.raw
		res.Raw = &raw
	}
	return res
}

func analyze(m module.Module, raw core.RawResult) (findings []core.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = core.ParseError(m.Descriptor().ID, fmt.Sprintf("analyze panicked: %v", r), nil)
		}
	}()
	return m.Analyze(raw)
}

// classify maps a collect error to the module outcome.
func classify(ctx context.Context, err error) core.Outcome {
	switch {
	case ctx.Err() != nil, core.IsKind(err, core.KindTimeout):
		return core.OutcomeTimeout
	case core.IsKind(err, core.KindAuth):
		return core.OutcomeSkipped
	default:
		return core.OutcomeFailed
	}
}

// normalize attributes findings to the module, fills defaults and drops
// findings with an invalid severity.
func normalize(moduleID string, raw core.RawResult, in []core.Finding) ([]core.Finding, int) {
	out := make([]core.Finding, 0, len(in))
	dropped := 0
	for _, f := range in {
		if !f.Severity.Valid() {
			dropped++
			continue
		}
		f.ModuleID = moduleID
		f.Modules = []string{moduleID}
		f.Seq = len(out)
		if f.FirstSeen.IsZero() {
			f.FirstSeen = raw.CapturedAt
		}
		switch {
		case f.Confidence < 0, math.IsNaN(f.Confidence):
			f.Confidence = 0
		case f.Confidence > 1:
			f.Confidence = 1
		}
		if f.Evidence == nil {
			f.Evidence = map[string]any{}
		}
		if f.ID == "" {
			f.ID = core.StableID(f)
		}
		out = append(out, f)
	}
	return out, dropped
}

func partialReason(errs []string, dropped int) error {
	reasons := append([]string(nil), errs...)
	if dropped > 0 {
		reasons = append(reasons, fmt.Sprintf("%d findings with invalid severity dropped", dropped))
	}
	return errors.New(strings.Join(reasons, "; "))
}
