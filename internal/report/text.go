package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
)

// Text renders the plain-text report.
func (r *Report) Text() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "=== PassiveNio Report ===")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "Target:       %s\n", r.target.Domain)
	if r.target.Organization != "" {
		fmt.Fprintf(&b, "Organization: %s\n", r.target.Organization)
	}
	fmt.Fprintf(&b, "Scan ID:      %s\n", r.scanID)
	fmt.Fprintf(&b, "Started:      %s\n", r.startedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished:     %s\n", r.finishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Risk score:   %d/100 (%s)\n", r.score, strings.ToUpper(string(r.band)))

	fmt.Fprintf(&b, "\n[Modules]\n")
	for _, s := range r.statuses {
		fmt.Fprintf(&b, "  %-18s %-8s %6dms  findings=%d", s.ModuleID, s.Outcome, s.Duration.Milliseconds(), s.Findings)
		switch {
		case s.Error != "":
			fmt.Fprintf(&b, "  (%s)", s.Error)
		case s.Reason != "":
			fmt.Fprintf(&b, "  (%s)", s.Reason)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n[Findings by severity]\n")
	counts := map[core.Severity]int{}
	for _, f := range r.findings {
		counts[f.Severity]++
	}
	for _, s := range core.Severities() {
		fmt.Fprintf(&b, "  %-9s %d\n", s, counts[s])
	}

	fmt.Fprintf(&b, "\n[Findings]\n")
	if len(r.findings) == 0 {
		b.WriteString("  none\n")
	}
	for i, f := range r.findings {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n", i+1, strings.ToUpper(string(f.Severity)), f.Title)
		fmt.Fprintf(&b, "   Module: %s", f.ModuleID)
		if f.Corroboration() > 1 {
			fmt.Fprintf(&b, " (corroborated by %s)", strings.Join(f.Modules, ", "))
		}
		fmt.Fprintf(&b, "  Confidence: %.2f\n", f.Confidence)
		if f.Description != "" {
			fmt.Fprintf(&b, "   %s\n", f.Description)
		}
		for _, rec := range f.Recommendations {
			fmt.Fprintf(&b, "   -> %s\n", rec)
		}
	}

	fmt.Fprintf(&b, "\n%s\n%s\n", line, Disclaimer)
	return b.String()
}

// PrintSummary writes a short console overview of the report.
func PrintSummary(w io.Writer, r *Report, paths []string) {
	fmt.Fprintf(w, "\n[+] Scan of %s finished: risk %d/100 (%s), %d findings\n",
		r.target.Domain, r.score, strings.ToUpper(string(r.band)), len(r.findings))
	for _, s := range r.statuses {
		mark := "+"
		switch s.Outcome {
		case core.OutcomeFailed, core.OutcomeTimeout:
			mark = "-"
		case core.OutcomeSkipped, core.OutcomePartial:
			mark = "~"
		}
		fmt.Fprintf(w, "    [%s] %-18s %s\n", mark, s.ModuleID, s.Outcome)
	}
	for i, f := range r.findings {
		if i == 5 {
			fmt.Fprintf(w, "    ... %d more\n", len(r.findings)-5)
			break
		}
		fmt.Fprintf(w, "    [%s] %s\n", strings.ToUpper(string(f.Severity)), f.Title)
	}
	for _, p := range paths {
		fmt.Fprintf(w, "[+] Report written to %s\n", p)
	}
}
