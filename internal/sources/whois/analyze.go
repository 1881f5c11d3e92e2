package whois

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
)

var privacyMarkers = []string{"privacy", "proxy", "redacted", "whoisguard", "protect", "anonymi", "withheld", "contactprivacy"}

func isPrivacyEmail(e string) bool {
	l := strings.ToLower(e)
	for _, kw := range privacyMarkers {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

// exposedEmails drops privacy-service addresses and the registrar's own
// abuse contact.
func exposedEmails(rec *Record) []string {
	var out []string
	for _, e := range rec.Emails {
		if isPrivacyEmail(e) || strings.EqualFold(e, rec.AbuseEmail) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(e), "abuse@") {
			continue
		}
		out = append(out, strings.ToLower(e))
	}
	return out
}

func analyze(rec *Record, now time.Time) []core.Finding {
	var out []core.Finding

	summary := map[string]any{
		"registrar":    rec.Registrar,
		"name_servers": rec.NameServers,
		"status":       rec.Status,
	}
	if !rec.Created.IsZero() {
		summary["created"] = rec.Created.Format("2006-01-02")
		summary["age_years"] = yearsBetween(rec.Created, now)
	}
	if !rec.Expires.IsZero() {
		summary["expires"] = rec.Expires.Format("2006-01-02")
	}
	out = append(out, core.Finding{
		Category:    core.CategoryWhois,
		Severity:    core.SeverityInfo,
		Confidence:  0.95,
		Title:       fmt.Sprintf("Domain registered via %s", emptyIfNil(rec.Registrar)),
		Description: fmt.Sprintf("Public registration data for %s.", rec.Domain),
		Evidence:    summary,
	})

	if exposed := exposedEmails(rec); len(exposed) > 0 {
		out = append(out, core.Finding{
			Category:   core.CategoryWhois,
			Severity:   core.SeverityMedium,
			Confidence: 0.8,
			Title:      "WHOIS privacy not enabled",
			Description: "The registration record publishes contact e-mail addresses. " +
				"They can be used for targeted phishing and social engineering.",
			Evidence: map[string]any{"exposed_emails": exposed},
			Recommendations: []string{
				"Enable WHOIS or domain privacy with the registrar.",
				"Check whether the exposed addresses appear in breach data.",
			},
		})
		for _, e := range exposed {
			out = append(out, core.Finding{
				Category:    core.CategoryEmail,
				Severity:    core.SeverityInfo,
				Confidence:  0.9,
				Title:       "E-mail address in WHOIS record: " + e,
				Description: "Address published in the public registration data.",
				Observable:  e,
				Evidence:    map[string]any{"email": e, "where": "whois"},
			})
		}
	}

	if !rec.Expires.IsZero() {
		left := rec.Expires.Sub(now)
		days := int(math.Floor(left.Hours() / 24))
		switch {
		case left <= 0:
			out = append(out, core.Finding{
				Category:    core.CategoryWhois,
				Severity:    core.SeverityCritical,
				Confidence:  0.9,
				Title:       "Domain registration has expired",
				Description: fmt.Sprintf("%s expired on %s and can be registered by anyone once released.", rec.Domain, rec.Expires.Format("2006-01-02")),
				Evidence:    map[string]any{"expiration_date": rec.Expires.Format("2006-01-02")},
				Recommendations: []string{
					"Renew the domain with the registrar immediately.",
				},
			})
		case left < expiryWarning:
			out = append(out, core.Finding{
				Category:    core.CategoryWhois,
				Severity:    core.SeverityHigh,
				Confidence:  0.9,
				Title:       "Domain expires in less than 90 days",
				Description: fmt.Sprintf("%s expires on %s (%d days). A lapse enables domain hijacking.", rec.Domain, rec.Expires.Format("2006-01-02"), days),
				Evidence:    map[string]any{"expiration_date": rec.Expires.Format("2006-01-02"), "days_left": days},
				Recommendations: []string{
					"Renew the domain and enable auto-renewal.",
				},
			})
		}
	}

	if dnssecUnsigned(rec.DNSSEC) {
		out = append(out, core.Finding{
			Category:    core.CategoryWhois,
			Severity:    core.SeverityLow,
			Confidence:  0.7,
			Title:       "DNSSEC not enabled",
			Description: "The registry reports the zone as unsigned; DNS answers for the domain cannot be authenticated.",
			Evidence:    map[string]any{"dnssec": rec.DNSSEC},
			Recommendations: []string{
				"Sign the zone and publish the DS record through the registrar.",
			},
		})
	}

	if len(rec.Status) > 0 && !hasStatus(rec.Status, "transferprohibited") {
		out = append(out, core.Finding{
			Category:    core.CategoryWhois,
			Severity:    core.SeverityLow,
			Confidence:  0.7,
			Title:       "Registrar transfer lock not set",
			Description: "No transfer-prohibited status is present, so the domain is easier to move away through a compromised registrar account.",
			Evidence:    map[string]any{"status": rec.Status},
			Recommendations: []string{
				"Enable clientTransferProhibited (registrar lock).",
			},
		})
	}
	return out
}

func hasStatus(statuses []string, want string) bool {
	for _, s := range statuses {
		if strings.Contains(strings.ToLower(s), want) {
			return true
		}
	}
	return false
}

func dnssecUnsigned(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "unsigned", "no", "inactive", "false", "not signed":
		return true
	}
	return strings.HasPrefix(v, "unsigned")
}
