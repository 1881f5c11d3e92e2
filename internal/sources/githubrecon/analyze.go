package githubrecon

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/shii9/PassiveNio/internal/core"
)

var secretPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"API key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w\-]{16,}`)},
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?\S{6,}`)},
	{"secret or token", regexp.MustCompile(`(?i)(secret|token)\s*[:=]\s*['"]?[\w\-]{16,}`)},
	{"AWS access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private key", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{"database connection string", regexp.MustCompile(`(?i)(jdbc:\w+|mysql|postgres(ql)?|mongodb(\+srv)?)://\S+`)},
	{"GitHub token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{"Slack token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"Google API key", regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)},
}

// matchSecret returns the label of the first pattern found in the path or
// any fragment of hit.
func matchSecret(hit CodeHit) string {
	texts := append([]string{hit.Path}, hit.Fragments...)
	for _, p := range secretPatterns {
		for _, t := range texts {
			if p.re.MatchString(t) {
				return p.label
			}
		}
	}
	return ""
}

func analyze(d *Data) []core.Finding {
	var out []core.Finding
	var mentions []string

	for _, hit := range d.Hits {
		label := matchSecret(hit)
		if label == "" {
			mentions = append(mentions, hit.URL)
			continue
		}
		out = append(out, core.Finding{
			Category:    core.CategoryCodeLeak,
			Severity:    core.SeverityHigh,
			Confidence:  0.6,
			Title:       fmt.Sprintf("Possible %s leak on GitHub", label),
			Description: fmt.Sprintf("%s in %s mentions the domain next to a %s pattern.", hit.Path, hit.Repository, label),
			Evidence: map[string]any{
				"repository":      hit.Repository,
				"path":            hit.Path,
				"url":             hit.URL,
				"matched_pattern": label,
			},
			Observable: hit.URL,
			Recommendations: []string{
				"Review the file and rotate any credential it contains.",
				"Ask the repository owner to purge the secret from history.",
			},
		})
	}
	if len(mentions) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryCodeLeak,
			Severity:    core.SeverityInfo,
			Confidence:  0.8,
			Title:       fmt.Sprintf("Domain referenced in %d public code files", len(mentions)),
			Description: "Public repositories mention the domain without a recognisable secret.",
			Evidence:    map[string]any{"urls": mentions},
		})
	}

	if d.Org != nil {
		out = append(out, core.Finding{
			Category:    core.CategorySocial,
			Severity:    core.SeverityInfo,
			Confidence:  0.7,
			Title:       "GitHub organization: " + d.Org.Login,
			Description: fmt.Sprintf("Organization account %q with %d public repositories.", d.Org.Name, d.Org.PublicRepos),
			Evidence:    map[string]any{"blog": d.Org.Blog, "email": d.Org.Email, "description": d.Org.Description},
			Observable:  "github:" + d.Org.Login,
		})
	}

	if len(d.Repos) > 0 {
		repos := append([]Repo(nil), d.Repos...)
		sort.SliceStable(repos, func(i, j int) bool { return repos[i].Stars > repos[j].Stars })
		if len(repos) > 20 {
			repos = repos[:20]
		}
		out = append(out, core.Finding{
			Category:    core.CategoryCodeLeak,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       fmt.Sprintf("%d public GitHub repositories", len(d.Repos)),
			Description: "Public repositories can expose source code, configuration or secrets.",
			Evidence:    map[string]any{"repositories": repos},
			Recommendations: []string{
				"Audit every public repository for accidentally committed secrets.",
			},
		})
	}
	return out
}
