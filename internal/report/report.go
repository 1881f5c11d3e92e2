package report

import (
	"encoding/json"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/risk"
)

// Disclaimer is attached to every report.
const Disclaimer = "This report is based solely on publicly accessible information. " +
	"No active scanning or attack techniques were used against the target. " +
	"Findings reflect third-party data at the time of the scan and should be verified before acting on them."

// Input is everything a report is built from. Findings are expected to be
// aggregated and sorted already.
type Input struct {
	ScanID     string
	Target     core.Target
	StartedAt  time.Time
	FinishedAt time.Time
	Statuses   []core.ModuleStatus
	Findings   []core.Finding
	// Raw payloads are embedded only when keep_raw is set.
	Raw []core.RawResult
}

// Report is immutable once built; accessors return copies.
type Report struct {
	scanID     string
	target     core.Target
	startedAt  time.Time
	finishedAt time.Time
	score      int
	band       risk.Band
	statuses   []core.ModuleStatus
	findings   []core.Finding
	raw        []core.RawResult
}

// Build scores the findings and freezes the result.
func Build(in Input) *Report {
	r := &Report{
		scanID:     in.ScanID,
		target:     in.Target,
		startedAt:  in.StartedAt.UTC(),
		finishedAt: in.FinishedAt.UTC(),
		statuses:   append([]core.ModuleStatus(nil), in.Statuses...),
		raw:        append([]core.RawResult(nil), in.Raw...),
	}
	r.findings = make([]core.Finding, len(in.Findings))
	for i, f := range in.Findings {
		r.findings[i] = f.Clone()
	}
	r.score = risk.Score(r.findings)
	r.band = risk.BandFor(r.score)
	return r
}

func (r *Report) ScanID() string        { return r.scanID }
func (r *Report) Target() core.Target   { return r.target }
func (r *Report) StartedAt() time.Time  { return r.startedAt }
func (r *Report) FinishedAt() time.Time { return r.finishedAt }
func (r *Report) Score() int            { return r.score }
func (r *Report) Band() risk.Band       { return r.band }
func (r *Report) Disclaimer() string    { return Disclaimer }

// Statuses returns the module statuses in plan order.
func (r *Report) Statuses() []core.ModuleStatus {
	return append([]core.ModuleStatus(nil), r.statuses...)
}

// Findings returns deep copies of the findings.
func (r *Report) Findings() []core.Finding {
	out := make([]core.Finding, len(r.findings))
	for i, f := range r.findings {
		out[i] = f.Clone()
	}
	return out
}

// Summary is the condensed risk view of the report.
func (r *Report) Summary() risk.Summary {
	return risk.Summarize(r.findings)
}

type moduleJSON struct {
	ID         string       `json:"id"`
	Status     core.Outcome `json:"status"`
	DurationMS int64        `json:"duration_ms"`
	Error      *string      `json:"error"`
	Reason     string       `json:"reason,omitempty"`
	Attempts   int          `json:"attempts"`
	Findings   int          `json:"findings"`
}

type rawJSON struct {
	Module     string    `json:"module"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    any       `json:"payload"`
	Errors     []string  `json:"errors,omitempty"`
}

type reportJSON struct {
	ScanID             string                `json:"scan_id"`
	Target             string                `json:"target"`
	Organization       string                `json:"organization,omitempty"`
	StartedAt          time.Time             `json:"started_at"`
	FinishedAt         time.Time             `json:"finished_at"`
	RiskScore          int                   `json:"risk_score"`
	RiskBand           risk.Band             `json:"risk_band"`
	RiskPolicy         string                `json:"risk_policy"`
	FindingsBySeverity map[core.Severity]int `json:"findings_by_severity"`
	Modules            []moduleJSON          `json:"modules"`
	Findings           []core.Finding        `json:"findings"`
	Raw                []rawJSON             `json:"raw,omitempty"`
	Disclaimer         string                `json:"disclaimer"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		ScanID:             r.scanID,
		Target:             r.target.Domain,
		Organization:       r.target.Organization,
		StartedAt:          r.startedAt,
		FinishedAt:         r.finishedAt,
		RiskScore:          r.score,
		RiskBand:           r.band,
		RiskPolicy:         risk.PolicyVersion,
		FindingsBySeverity: risk.Counts(r.findings),
		Modules:            make([]moduleJSON, 0, len(r.statuses)),
		Findings:           r.findings,
		Disclaimer:         Disclaimer,
	}
	if out.Findings == nil {
		out.Findings = []core.Finding{}
	}
	for _, s := range r.statuses {
		out.Modules = append(out.Modules, moduleJSON{
			ID:         s.ModuleID,
			Status:     s.Outcome,
			DurationMS: s.Duration.Milliseconds(),
			Error:      errorOrNil(s.Error),
			Reason:     s.Reason,
			Attempts:   s.Attempts,
			Findings:   s.Findings,
		})
	}
	for _, raw := range r.raw {
		out.Raw = append(out.Raw, rawJSON{Module: raw.ModuleID, CapturedAt: raw.CapturedAt, Payload: raw.Payload, Errors: raw.Errors})
	}
	return json.Marshal(out)
}

func errorOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
