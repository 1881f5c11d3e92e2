package ipintel

import (
	"fmt"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

// sharedHostingThreshold is the neighbour count above which an address is
// treated as mass shared hosting.
const sharedHostingThreshold = 50

var providers = []struct{ marker, name string }{
	{"cloudflare", "Cloudflare"},
	{"akamai", "Akamai"},
	{"fastly", "Fastly"},
	{"amazon", "Amazon Web Services"},
	{"google", "Google Cloud"},
	{"microsoft", "Microsoft Azure"},
	{"digitalocean", "DigitalOcean"},
	{"hetzner", "Hetzner"},
	{"ovh", "OVHcloud"},
	{"linode", "Linode"},
}

func provider(org string) string {
	o := strings.ToLower(org)
	for _, p := range providers {
		if strings.Contains(o, p.marker) {
			return p.name
		}
	}
	return ""
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	d, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(d), nil
}

func analyze(d *Data) []core.Finding {
	target := core.Target{Domain: d.Domain}
	var out []core.Finding
	seenProvider := map[string]bool{}

	for _, a := range d.Addresses {
		where := strings.Join(nonEmpty(a.City, a.Country), ", ")
		owner := a.Org
		if owner == "" && a.Network != nil {
			owner = a.Network.Name
		}
		ev := map[string]any{"hosts": a.Hosts, "asn": a.ASN, "org": a.Org, "location": where}
		if a.Network != nil {
			ev["network"] = a.Network
		}
		title := "Hosted at " + a.IP
		if owner != "" {
			title += " (" + owner + ")"
		}
		out = append(out, core.Finding{
			Category:    core.CategoryHost,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       title,
			Description: fmt.Sprintf("%s resolves to %s %s.", strings.Join(a.Hosts, " and "), a.IP, strings.TrimSpace(a.ASN+" "+where)),
			Evidence:    ev,
			Observable:  a.IP,
		})

		if p := provider(owner); p != "" && !seenProvider[p] {
			seenProvider[p] = true
			out = append(out, core.Finding{
				Category:    core.CategoryTechnology,
				Severity:    core.SeverityInfo,
				Confidence:  0.8,
				Title:       "Hosting provider: " + p,
				Description: "The address is announced by " + owner + ".",
				Evidence:    map[string]any{"ip": a.IP, "asn": a.ASN},
				Observable:  p,
			})
		}

		var foreign []string
		for _, h := range a.CoHosted {
			switch {
			case h == d.Domain || h == "www."+d.Domain:
			case target.Owns(h):
				out = append(out, core.Finding{
					Category:    core.CategorySubdomain,
					Severity:    core.SeverityInfo,
					Confidence:  0.6,
					Title:       "Subdomain discovered: " + h,
					Description: "Name served from the same address as " + d.Domain + ".",
					Evidence:    map[string]any{"source": "reverse-ip", "ip": a.IP},
					Observable:  h,
				})
			default:
				foreign = append(foreign, h)
			}
		}
		if len(foreign) == 0 {
			continue
		}
		f := core.Finding{
			Category:    core.CategoryHost,
			Severity:    core.SeverityInfo,
			Confidence:  0.6,
			Title:       fmt.Sprintf("%d other domains share %s", len(foreign), a.IP),
			Description: "Unrelated sites are served from the same address.",
			Evidence:    map[string]any{"ip": a.IP, "sample": sample(foreign, 20)},
		}
		if len(foreign) >= sharedHostingThreshold {
			f.Severity = core.SeverityLow
			f.Title = "Site runs on mass shared hosting at " + a.IP
			f.Recommendations = []string{"Compromise of a neighbouring site can affect this one; consider dedicated hosting for sensitive services."}
		}
		out = append(out, f)
	}
	return out
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sample(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
