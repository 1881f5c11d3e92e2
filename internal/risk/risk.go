package risk

import (
	"math"

	"github.com/shii9/PassiveNio/internal/core"
)

// PolicyVersion identifies the weight table below; it is recorded in every
// report so scores from different versions are never compared blindly.
const PolicyVersion = "v1"

// Weight is the scoring entry of one severity. The first finding adds W;
// further findings approach Cap without reaching it.
type Weight struct {
	W   float64
	Cap float64
}

var weights = map[core.Severity]Weight{
	core.SeverityCritical: {W: 70, Cap: 100},
	core.SeverityHigh:     {W: 50, Cap: 90},
	core.SeverityMedium:   {W: 25, Cap: 60},
	core.SeverityLow:      {W: 8, Cap: 30},
	core.SeverityInfo:     {W: 1, Cap: 5},
}

// WeightOf returns the table entry for s.
func WeightOf(s core.Severity) Weight { return weights[s] }

// Band is the qualitative rating of a score.
type Band string

const (
	BandCritical      Band = "critical"
	BandHigh          Band = "high"
	BandMedium        Band = "medium"
	BandLow           Band = "low"
	BandInformational Band = "informational"
)

// Contribution of n findings of one severity.
func Contribution(s core.Severity, n int) float64 {
	w, ok := weights[s]
	if !ok || n <= 0 {
		return 0
	}
	return w.Cap * (1 - math.Pow(1-w.W/w.Cap, float64(n)))
}

// Score maps findings to [0,100]. Adding a finding never lowers it.
func Score(findings []core.Finding) int {
	counts := Counts(findings)
	total := 0.0
	for _, s := range core.Severities() {
		total += Contribution(s, counts[s])
	}
	score := int(math.Round(total))
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// BandFor rates a score.
func BandFor(score int) Band {
	switch {
	case score >= 70:
		return BandCritical
	case score >= 50:
		return BandHigh
	case score >= 30:
		return BandMedium
	case score >= 10:
		return BandLow
	default:
		return BandInformational
	}
}

// Counts tallies findings per severity; every level is present.
func Counts(findings []core.Finding) map[core.Severity]int {
	out := make(map[core.Severity]int, 5)
	for _, s := range core.Severities() {
		out[s] = 0
	}
	for _, f := range findings {
		if f.Severity.Valid() {
			out[f.Severity]++
		}
	}
	return out
}
