package risk

import "github.com/shii9/PassiveNio/internal/core"

const topFindings = 10

// TopFinding is the short form of a finding used in summaries.
type TopFinding struct {
	Severity core.Severity `json:"severity"`
	Title    string        `json:"title"`
	Module   string        `json:"module"`
}

// Summary is the condensed risk picture printed with --json-stdout.
type Summary struct {
	RiskScore          int                   `json:"risk_score"`
	RiskRating         Band                  `json:"risk_rating"`
	Policy             string                `json:"risk_policy"`
	TotalFindings      int                   `json:"total_findings"`
	FindingsBySeverity map[core.Severity]int `json:"findings_by_severity"`
	TopFindings        []TopFinding          `json:"top_findings"`
}

// Summarize scores findings, which must already be sorted most severe first.
func Summarize(findings []core.Finding) Summary {
	score := Score(findings)
	s := Summary{
		RiskScore:          score,
		RiskRating:         BandFor(score),
		Policy:             PolicyVersion,
		TotalFindings:      len(findings),
		FindingsBySeverity: Counts(findings),
		TopFindings:        []TopFinding{},
	}
	for i, f := range findings {
		if i == topFindings {
			break
		}
		s.TopFindings = append(s.TopFindings, TopFinding{Severity: f.Severity, Title: f.Title, Module: f.ModuleID})
	}
	return s
}
