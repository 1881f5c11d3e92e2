package risk

import (
	"math"
	"testing"

	"github.com/shii9/PassiveNio/internal/core"
)

func many(s core.Severity, n int) []core.Finding {
	out := make([]core.Finding, n)
	for i := range out {
		out[i] = core.Finding{Severity: s, Title: string(s)}
	}
	return out
}

func TestWeightTable(t *testing.T) {
	tests := []struct {
		sev core.Severity
		w   float64
		cap float64
	}{
		{core.SeverityCritical, 70, 100},
		{core.SeverityHigh, 50, 90},
		{core.SeverityMedium, 25, 60},
		{core.SeverityLow, 8, 30},
		{core.SeverityInfo, 1, 5},
	}
	for _, tt := range tests {
		got := WeightOf(tt.sev)
		if got.W != tt.w || got.Cap != tt.cap {
			t.Errorf("WeightOf(%s) = %+v, want w=%v cap=%v", tt.sev, got, tt.w, tt.cap)
		}
		if c := Contribution(tt.sev, 1); math.Abs(c-tt.w) > 1e-9 {
			t.Errorf("first %s finding contributes %v, want %v", tt.sev, c, tt.w)
		}
		if c := Contribution(tt.sev, 10000); c > tt.cap {
			t.Errorf("%s contribution %v exceeds cap %v", tt.sev, c, tt.cap)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	if Score(nil) != 0 {
		t.Errorf("Score(nil) = %d", Score(nil))
	}
	var all []core.Finding
	for _, s := range core.Severities() {
		all = append(all, many(s, 500)...)
	}
	if got := Score(all); got != 100 {
		t.Errorf("saturated score = %d, want 100", got)
	}
}

func TestScoreMonotone(t *testing.T) {
	var findings []core.Finding
	prev := Score(findings)
	// Cycle through severities so every level grows.
	for i := 0; i < 60; i++ {
		s := core.Severities()[i%5]
		findings = append(findings, core.Finding{Severity: s})
		got := Score(findings)
		if got < prev {
			t.Fatalf("score dropped from %d to %d after adding %s", prev, got, s)
		}
		if got < 0 || got > 100 {
			t.Fatalf("score %d out of range", got)
		}
		prev = got
	}
}

func TestDiminishingReturns(t *testing.T) {
	first := Contribution(core.SeverityMedium, 1)
	second := Contribution(core.SeverityMedium, 2) - first
	third := Contribution(core.SeverityMedium, 3) - Contribution(core.SeverityMedium, 2)
	if !(first > second && second > third && third > 0) {
		t.Errorf("marginal contributions %v, %v, %v not diminishing", first, second, third)
	}
	if Score(many(core.SeverityInfo, 1000)) > 5 {
		t.Error("informational volume must not exceed its cap")
	}
}

func TestBands(t *testing.T) {
	tests := []struct {
		score int
		band  Band
	}{
		{0, BandInformational},
		{9, BandInformational},
		{10, BandLow},
		{29, BandLow},
		{30, BandMedium},
		{49, BandMedium},
		{50, BandHigh},
		{69, BandHigh},
		{70, BandCritical},
		{100, BandCritical},
	}
	for _, tt := range tests {
		if got := BandFor(tt.score); got != tt.band {
			t.Errorf("BandFor(%d) = %s, want %s", tt.score, got, tt.band)
		}
	}
}

func TestExampleScan(t *testing.T) {
	// Two informational DNS findings and one high breach finding.
	findings := append(many(core.SeverityInfo, 2), core.Finding{Severity: core.SeverityHigh})
	score := Score(findings)
	if score != 52 {
		t.Errorf("Score() = %d, want 52", score)
	}
	if BandFor(score) != BandHigh {
		t.Errorf("band = %s, want high", BandFor(score))
	}
	if Score(many(core.SeverityCritical, 1)) != 70 {
		t.Error("a single critical finding must rate critical")
	}
}

func TestSummarize(t *testing.T) {
	findings := append(many(core.SeverityHigh, 3), many(core.SeverityLow, 12)...)
	s := Summarize(findings)
	if s.TotalFindings != 15 || len(s.TopFindings) != 10 {
		t.Errorf("summary = %+v", s)
	}
	if s.FindingsBySeverity[core.SeverityHigh] != 3 || s.FindingsBySeverity[core.SeverityCritical] != 0 {
		t.Errorf("counts = %v", s.FindingsBySeverity)
	}
	if s.Policy != PolicyVersion || s.RiskRating != BandFor(s.RiskScore) {
		t.Errorf("summary rating = %+v", s)
	}
}
