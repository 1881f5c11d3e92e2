package techfingerprint

import (
	"fmt"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

func analyze(fp *Fingerprint) []core.Finding {
	var out []core.Finding

	var missing []string
	for _, h := range securityHeaders {
		if h == "Strict-Transport-Security" && !fp.HTTPS {
			continue
		}
		if _, ok := fp.Headers[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryHTTP,
			Severity:    core.SeverityMedium,
			Confidence:  0.9,
			Title:       "Missing security headers",
			Description: fmt.Sprintf("%s does not send %s.", fp.URL, strings.Join(missing, ", ")),
			Evidence:    map[string]any{"url": fp.URL, "missing": missing},
			Recommendations: []string{
				"Add the missing response headers at the web server or CDN.",
			},
		})
	}
	if !fp.HTTPS {
		out = append(out, core.Finding{
			Category:        core.CategoryHTTP,
			Severity:        core.SeverityMedium,
			Confidence:      0.8,
			Title:           "Homepage served without HTTPS",
			Description:     "The site could only be reached over plain HTTP.",
			Evidence:        map[string]any{"url": fp.URL},
			Recommendations: []string{"Serve the site over HTTPS and redirect HTTP to it."},
		})
	}

	var disclosed []string
	for _, t := range fp.Technologies {
		if t.Version != "" {
			disclosed = append(disclosed, t.Name+" "+t.Version)
		}
	}
	if len(disclosed) > 0 {
		out = append(out, core.Finding{
			Category:        core.CategoryHTTP,
			Severity:        core.SeverityLow,
			Confidence:      0.9,
			Title:           "Software version disclosure",
			Description:     "Response headers or markup reveal exact versions: " + strings.Join(disclosed, ", ") + ".",
			Evidence:        map[string]any{"versions": disclosed, "headers": fp.Headers},
			Recommendations: []string{"Suppress version strings in Server, X-Powered-By and generator tags."},
		})
	}

	var weak []string
	for _, c := range fp.Cookies {
		var flags []string
		if fp.HTTPS && !c.Secure {
			flags = append(flags, "Secure")
		}
		if !c.HttpOnly {
			flags = append(flags, "HttpOnly")
		}
		if len(flags) > 0 {
			weak = append(weak, fmt.Sprintf("%s (no %s)", c.Name, strings.Join(flags, ", no ")))
		}
	}
	if len(weak) > 0 {
		out = append(out, core.Finding{
			Category:        core.CategoryHTTP,
			Severity:        core.SeverityLow,
			Confidence:      0.8,
			Title:           "Cookies without security flags",
			Description:     "Cookies set by the homepage lack protective attributes: " + strings.Join(weak, "; ") + ".",
			Evidence:        map[string]any{"cookies": weak},
			Recommendations: []string{"Set Secure and HttpOnly on session cookies."},
		})
	}

	if c := fp.TLS; c != nil && !fp.Now.IsZero() {
		days := int(c.NotAfter.Sub(fp.Now).Hours() / 24)
		switch {
		case days < 0:
			out = append(out, tlsFinding(c, core.SeverityHigh, "TLS certificate expired", days))
		case days < 14:
			out = append(out, tlsFinding(c, core.SeverityMedium, "TLS certificate expires soon", days))
		}
	}

	for _, t := range fp.Technologies {
		title := "Technology detected: " + t.Name
		if t.Version != "" {
			title += " " + t.Version
		}
		out = append(out, core.Finding{
			Category:    core.CategoryTechnology,
			Severity:    core.SeverityInfo,
			Confidence:  0.7,
			Title:       title,
			Description: fmt.Sprintf("%s (%s) identified from %s.", t.Name, t.Category, t.Evidence),
			Evidence:    map[string]any{"category": t.Category, "evidence": t.Evidence, "version": t.Version},
			Observable:  t.Name,
		})
	}
	return out
}

func tlsFinding(c *Certificate, sev core.Severity, title string, days int) core.Finding {
	return core.Finding{
		Category:        core.CategoryHTTP,
		Severity:        sev,
		Confidence:      0.95,
		Title:           title,
		Description:     fmt.Sprintf("The certificate for %s is valid until %s.", c.Subject, c.NotAfter.Format("2006-01-02")),
		Evidence:        map[string]any{"issuer": c.Issuer, "not_after": c.NotAfter, "days_left": days},
		Recommendations: []string{"Renew the certificate and automate renewal."},
	}
}
