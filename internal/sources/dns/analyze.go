package dns

import (
	"fmt"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

// SPF is the parsed form of a v=spf1 record.
type SPF struct {
	Raw      string
	Includes []string
	IP4      []string
	IP6      []string
	All      string
}

func parseSPF(raw string) SPF {
	out := SPF{Raw: raw}
	for _, term := range strings.Fields(strings.ToLower(raw)) {
		switch {
		case strings.HasPrefix(term, "include:"):
			out.Includes = append(out.Includes, term[len("include:"):])
		case strings.HasPrefix(term, "ip4:"):
			out.IP4 = append(out.IP4, term[len("ip4:"):])
		case strings.HasPrefix(term, "ip6:"):
			out.IP6 = append(out.IP6, term[len("ip6:"):])
		case term == "all" || term == "+all":
			out.All = "+all"
		case term == "-all" || term == "~all" || term == "?all":
			out.All = term
		}
	}
	out.Includes = dedupeStrings(out.Includes)
	return out
}

// parseTags splits "k=v; k=v" records such as DMARC and MTA-STS TXT.
func parseTags(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// parseMtaSts reads the "key: value" lines of an MTA-STS policy file.
func parseMtaSts(body string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

var mailProviders = []struct {
	marker, name string
}{
	{"google.com", "Google Workspace"},
	{"googlemail.com", "Google Workspace"},
	{"outlook.com", "Microsoft 365"},
	{"protonmail", "Proton Mail"},
	{"zoho", "Zoho Mail"},
	{"sendgrid", "SendGrid"},
	{"amazonses", "Amazon SES"},
	{"pphosted.com", "Proofpoint"},
	{"mimecast", "Mimecast"},
}

func inferProviders(mx []string) []string {
	var out []string
	for _, h := range mx {
		for _, p := range mailProviders {
			if strings.Contains(h, p.marker) {
				out = append(out, p.name)
				break
			}
		}
	}
	return dedupeStrings(out)
}

func inZone(host, domain string) bool {
	return host != domain && strings.HasSuffix(host, "."+domain)
}

func analyze(rec *Records) []core.Finding {
	var out []core.Finding
	d := rec.Domain

	if len(rec.NS) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityInfo,
			Confidence:  1,
			Title:       "Name servers",
			Description: fmt.Sprintf("%s is served by %s.", d, strings.Join(rec.NS, ", ")),
			Evidence:    map[string]any{"ns": rec.NS, "soa": rec.SOA, "dnssec": rec.DNSKEY},
		})
	}
	if len(rec.MX) > 0 {
		ev := map[string]any{"mx": rec.MX}
		providers := inferProviders(rec.MX)
		if len(providers) > 0 {
			ev["providers"] = providers
		}
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityInfo,
			Confidence:  1,
			Title:       "Mail exchangers",
			Description: fmt.Sprintf("Mail for %s is delivered to %s.", d, strings.Join(rec.MX, ", ")),
			Evidence:    ev,
		})
		for _, p := range providers {
			out = append(out, core.Finding{
				Category:    core.CategoryTechnology,
				Severity:    core.SeverityInfo,
				Confidence:  0.8,
				Title:       "Mail provider: " + p,
				Description: "Inferred from the MX records.",
				Evidence:    map[string]any{"mx": rec.MX},
				Observable:  p,
			})
		}
	}

	for _, h := range append(append([]string{}, rec.MX...), rec.NS...) {
		if !inZone(h, d) {
			continue
		}
		out = append(out, core.Finding{
			Category:    core.CategorySubdomain,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       "Subdomain discovered: " + h,
			Description: "Host referenced by the zone's MX or NS records.",
			Evidence:    map[string]any{"source": "dns"},
			Observable:  h,
		})
	}

	out = append(out, spfFindings(rec)...)
	out = append(out, dmarcFindings(rec)...)

	if len(rec.CAA) == 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityLow,
			Confidence:  0.9,
			Title:       "No CAA records",
			Description: "Any certificate authority may issue certificates for " + d + ".",
			Evidence:    map[string]any{"caa": []string{}},
			Recommendations: []string{
				"Publish CAA records naming the certificate authorities in use.",
			},
		})
	}

	if len(rec.MX) > 0 && len(rec.DKIMSelectors) == 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityInfo,
			Confidence:  0.4,
			Title:       "No DKIM key at common selectors",
			Description: "None of the probed selectors returned a DKIM key. A custom selector may still be in use.",
			Evidence:    map[string]any{"selectors": dkimSelectors},
		})
	}
	if len(rec.MX) > 0 && rec.MTASTS == "" {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       "MTA-STS not deployed",
			Description: "Inbound mail transport is not protected against TLS downgrade.",
			Evidence:    map[string]any{"record": "_mta-sts." + d},
		})
	} else if mode := rec.MTASTSPolicy["mode"]; mode == "testing" || mode == "none" {
		out = append(out, core.Finding{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityLow,
			Confidence:  0.9,
			Title:       "MTA-STS policy not enforced",
			Description: fmt.Sprintf("The MTA-STS policy mode is %q.", mode),
			Evidence:    map[string]any{"policy": rec.MTASTSPolicy},
		})
	}
	return out
}

func spfFindings(rec *Records) []core.Finding {
	var records []string
	for _, t := range rec.TXT {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "v=spf1") {
			records = append(records, t)
		}
	}
	switch len(records) {
	case 0:
		return []core.Finding{{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityMedium,
			Confidence:  0.9,
			Title:       "No SPF record",
			Description: "Without SPF, receivers cannot tell which servers may send mail as " + rec.Domain + ".",
			Evidence:    map[string]any{"txt": rec.TXT},
			Recommendations: []string{
				"Publish a v=spf1 TXT record ending in -all or ~all.",
			},
		}}
	case 1:
	default:
		return []core.Finding{{
			Category:        core.CategoryDNS,
			Severity:        core.SeverityMedium,
			Confidence:      0.9,
			Title:           "Multiple SPF records",
			Description:     "More than one v=spf1 record yields a permanent SPF error at receivers.",
			Evidence:        map[string]any{"spf": records},
			Recommendations: []string{"Merge the SPF records into one."},
		}}
	}

	spf := parseSPF(records[0])
	ev := map[string]any{"spf": spf.Raw, "includes": spf.Includes, "all": spf.All}
	switch spf.All {
	case "+all":
		return []core.Finding{{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityHigh,
			Confidence:  0.95,
			Title:       "SPF allows any sender (+all)",
			Description: "The SPF record authorises every host on the internet to send mail as " + rec.Domain + ".",
			Evidence:    ev,
			Recommendations: []string{
				"Replace +all with -all once all legitimate senders are listed.",
			},
		}}
	case "?all", "":
		return []core.Finding{{
			Category:        core.CategoryDNS,
			Severity:        core.SeverityLow,
			Confidence:      0.9,
			Title:           "SPF policy is neutral",
			Description:     "The SPF record does not ask receivers to reject unlisted senders.",
			Evidence:        ev,
			Recommendations: []string{"End the SPF record with -all or ~all."},
		}}
	}
	return []core.Finding{{
		Category:    core.CategoryDNS,
		Severity:    core.SeverityInfo,
		Confidence:  1,
		Title:       "SPF record",
		Description: "SPF is published with " + spf.All + ".",
		Evidence:    ev,
	}}
}

func dmarcFindings(rec *Records) []core.Finding {
	if len(rec.DMARC) == 0 {
		return []core.Finding{{
			Category:    core.CategoryDNS,
			Severity:    core.SeverityMedium,
			Confidence:  0.9,
			Title:       "No DMARC record",
			Description: "Spoofed mail from " + rec.Domain + " is not rejected or reported by receivers.",
			Evidence:    map[string]any{"record": "_dmarc." + rec.Domain},
			Recommendations: []string{
				"Publish a DMARC record, starting with p=none and rua reporting, then move to quarantine or reject.",
			},
		}}
	}
	tags := parseTags(rec.DMARC[0])
	ev := map[string]any{"dmarc": rec.DMARC[0], "policy": tags["p"]}
	if rua := tags["rua"]; rua != "" {
		ev["rua"] = rua
	}
	if strings.EqualFold(tags["p"], "none") || tags["p"] == "" {
		return []core.Finding{{
			Category:        core.CategoryDNS,
			Severity:        core.SeverityLow,
			Confidence:      0.9,
			Title:           "DMARC policy is monitor-only (p=none)",
			Description:     "DMARC is published but does not instruct receivers to act on failing mail.",
			Evidence:        ev,
			Recommendations: []string{"Move the DMARC policy to quarantine or reject."},
		}}
	}
	return []core.Finding{{
		Category:    core.CategoryDNS,
		Severity:    core.SeverityInfo,
		Confidence:  1,
		Title:       "DMARC policy " + strings.ToLower(tags["p"]),
		Description: "DMARC is enforced.",
		Evidence:    ev,
	}}
}
