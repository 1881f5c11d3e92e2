package ctlogs

import (
	"fmt"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

// Labels that suggest a non-production host.
var sensitiveLabels = []string{
	"dev", "staging", "stage", "stg", "test", "qa", "uat", "internal", "intranet",
	"admin", "vpn", "jenkins", "gitlab", "jira", "grafana", "kibana", "beta", "preprod", "sandbox",
}

func sensitiveLabel(host, domain string) string {
	prefix := strings.TrimSuffix(host, "."+domain)
	for _, label := range strings.FieldsFunc(prefix, func(r rune) bool { return r == '.' || r == '-' }) {
		l := strings.TrimRight(label, "0123456789")
		for _, s := range sensitiveLabels {
			if l == s {
				return s
			}
		}
	}
	return ""
}

func analyze(res *Result) []core.Finding {
	var out []core.Finding
	var wildcards []string

	for _, h := range res.Hosts {
		if h.Wildcard {
			wildcards = append(wildcards, "*."+h.Name)
		}
		if h.Name == res.Domain {
			continue
		}
		f := core.Finding{
			Category:    core.CategorySubdomain,
			Severity:    core.SeverityInfo,
			Confidence:  0.7,
			Title:       "Subdomain discovered: " + h.Name,
			Description: "Hostname listed in public certificate transparency logs.",
			Evidence:    map[string]any{"sources": h.Sources},
			Observable:  h.Name,
		}
		if len(h.Issuers) > 0 {
			f.Evidence["issuers"] = h.Issuers
		}
		if len(h.Sources) > 1 {
			f.Confidence = 0.85
		}
		if label := sensitiveLabel(h.Name, res.Domain); label != "" {
			f.Severity = core.SeverityLow
			f.Description = fmt.Sprintf("Hostname listed in public certificate transparency logs. The %q label suggests a non-production or internal system.", label)
			f.Recommendations = []string{"Confirm the host is meant to be reachable from the internet."}
		}
		out = append(out, f)
	}

	if len(wildcards) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       "Wildcard certificates issued",
			Description: fmt.Sprintf("%d wildcard names appear in issued certificates. Hosts behind them are not enumerable from CT data.", len(wildcards)),
			Evidence:    map[string]any{"wildcards": wildcards},
		})
	}
	return out
}
