package social

import (
	"fmt"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

func analyze(d *Data) []core.Finding {
	var out []core.Finding
	var missing []string

	for _, p := range d.Profiles {
		if !p.Exists {
			if !p.Blocked {
				missing = append(missing, p.Platform)
			}
			continue
		}
		conf := 0.5
		desc := fmt.Sprintf("A public %s profile exists for handle %q.", p.Platform, p.Handle)
		if p.MentionsDomain {
			conf = 0.85
			desc += " It references " + d.Domain + "."
		}
		ev := map[string]any{"url": p.URL, "handle": p.Handle}
		for k, v := range p.Meta {
			if v != "" {
				ev[k] = v
			}
		}
		out = append(out, core.Finding{
			Category:    core.CategorySocial,
			Severity:    core.SeverityInfo,
			Confidence:  conf,
			Title:       fmt.Sprintf("Social profile: %s/%s", p.Platform, p.Handle),
			Description: desc,
			Evidence:    ev,
			Observable:  p.Platform + ":" + p.Handle,
			Recommendations: []string{
				"Review what organizational information the profile discloses.",
			},
		})
	}

	if len(missing) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategorySocial,
			Severity:    core.SeverityLow,
			Confidence:  0.4,
			Title:       fmt.Sprintf("No profile found on %d platform(s)", len(missing)),
			Description: "No organization profile was found on " + strings.Join(missing, ", ") + ". Unclaimed handles can be registered by impersonators.",
			Evidence:    map[string]any{"platforms": missing, "variants": d.Variants},
			Recommendations: []string{
				"Register the organization's handle on relevant platforms.",
			},
		})
	}
	return out
}
