package breach

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const (
	ID          = "breach_check"
	defaultBase = "https://haveibeenpwned.com/api/v3"
)

// Breach is the public HIBP breach record.
type Breach struct {
	Name        string   `json:"Name"`
	Title       string   `json:"Title"`
	Domain      string   `json:"Domain"`
	BreachDate  string   `json:"BreachDate"`
	PwnCount    int      `json:"PwnCount"`
	DataClasses []string `json:"DataClasses"`
	IsVerified  bool     `json:"IsVerified"`
	Description string   `json:"Description"`
}

// Data is the payload of one run.
type Data struct {
	Domain   string   `json:"domain"`
	Source   string   `json:"source"`
	Breaches []Breach `json:"breaches"`
	// Accounts maps breached aliases of the domain to breach names. It is
	// only filled with an API key for a verified domain.
	Accounts map[string][]string `json:"accounts,omitempty"`
}

// Module checks HaveIBeenPwned. The breach catalog is public; the
// per-account domain search needs a key.
type Module struct {
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Breach check",
		Source:      "hibp",
		Description: "Known data breaches of the domain from HaveIBeenPwned",
		KeyEnv:      "HIBP_API_KEY",
		Quota:       ratelimit.Quota{RequestsPerSecond: 0.5, Burst: 1},
	}
}

func (m *Module) base() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	return defaultBase
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	client := env.HTTP()
	data := &Data{Domain: target.Domain, Source: "haveibeenpwned_public"}

	var all []Breach
	if err := client.GetJSON(ctx, m.base()+"/breaches?domain="+url.QueryEscape(target.Domain), nil, &all); err != nil {
		return core.RawResult{}, err
	}
	for _, b := range all {
		if b.Domain != "" && target.Owns(b.Domain) {
			data.Breaches = append(data.Breaches, b)
		}
	}
	sort.Slice(data.Breaches, func(i, j int) bool { return data.Breaches[i].BreachDate > data.Breaches[j].BreachDate })

	var errs []string
	if env.APIKey != "" {
		data.Source = "haveibeenpwned"
		hdr := http.Header{"hibp-api-key": {env.APIKey}}
		var accounts map[string][]string
		err := client.GetJSON(ctx, m.base()+"/breacheddomain/"+url.PathEscape(target.Domain), hdr, &accounts)
		switch {
		case err == nil:
			data.Accounts = make(map[string][]string, len(accounts))
			for alias, names := range accounts {
				data.Accounts[strings.ToLower(alias)+"@"+target.Domain] = names
			}
		case source.IsNotFound(err):
		case core.IsKind(err, core.KindAuth):
			// Domain search only works for domains verified in the key's account.
			errs = append(errs, "domain search rejected: "+err.Error())
		default:
			if ctx.Err() != nil {
				return core.RawResult{}, err
			}
			errs = append(errs, "domain search: "+err.Error())
		}
	} else {
		env.Logger().Debug("no HIBP API key, using the public breach catalog only")
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	d, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(d), nil
}

func analyze(d *Data) []core.Finding {
	var out []core.Finding

	if len(d.Breaches) > 0 {
		total := 0
		classes := map[string]struct{}{}
		var names []string
		for _, b := range d.Breaches {
			total += b.PwnCount
			names = append(names, b.Name)
			for _, c := range b.DataClasses {
				classes[c] = struct{}{}
			}
		}
		exposed := make([]string, 0, len(classes))
		for c := range classes {
			exposed = append(exposed, c)
		}
		sort.Strings(exposed)

		sev := core.SeverityHigh
		if total > 100000 {
			sev = core.SeverityCritical
		}
		out = append(out, core.Finding{
			Category:   core.CategoryBreach,
			Severity:   sev,
			Confidence: 0.9,
			Title:      fmt.Sprintf("Domain found in %d known breach(es)", len(d.Breaches)),
			Description: fmt.Sprintf("%s appears in %d known breaches with about %d affected accounts. Exposed data: %s.",
				d.Domain, len(d.Breaches), total, strings.Join(exposed, ", ")),
			Evidence: map[string]any{
				"breaches":                names,
				"total_affected_accounts": total,
				"exposed_data_types":      exposed,
			},
			Recommendations: []string{
				"Ask affected users to change their passwords.",
				"Enforce MFA on every service.",
				"Monitor for reuse of leaked credentials.",
			},
		})
		for _, b := range d.Breaches {
			out = append(out, core.Finding{
				Category:    core.CategoryBreach,
				Severity:    core.SeverityMedium,
				Confidence:  0.9,
				Title:       "Breach: " + firstNonEmpty(b.Title, b.Name),
				Description: fmt.Sprintf("Date %s, %d accounts, data: %s.", firstNonEmpty(b.BreachDate, "n/a"), b.PwnCount, strings.Join(b.DataClasses, ", ")),
				Evidence: map[string]any{
					"name": b.Name, "breach_date": b.BreachDate, "pwn_count": b.PwnCount,
					"data_classes": b.DataClasses, "verified": b.IsVerified,
				},
				Observable: b.Name,
			})
		}
	}

	emails := make([]string, 0, len(d.Accounts))
	for e := range d.Accounts {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	for _, e := range emails {
		names := d.Accounts[e]
		out = append(out, core.Finding{
			Category:    core.CategoryEmail,
			Severity:    core.SeverityHigh,
			Confidence:  0.9,
			Title:       fmt.Sprintf("E-mail %s in %d breach(es)", e, len(names)),
			Description: "The address appears in: " + strings.Join(names, ", ") + ".",
			Evidence:    map[string]any{"breaches": names},
			Observable:  e,
			Recommendations: []string{
				"Reset the password of " + e + " and enable MFA.",
			},
		})
	}

	if len(d.Breaches) == 0 && len(d.Accounts) == 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryBreach,
			Severity:    core.SeverityInfo,
			Confidence:  0.8,
			Title:       "No known breaches for the domain",
			Description: "The checked sources list no breach for " + d.Domain + ".",
			Evidence:    map[string]any{"source": d.Source},
			Recommendations: []string{
				"Check again periodically; new breaches are published continuously.",
			},
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
