package pastebin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const (
	ID          = "pastebin_monitor"
	defaultBase = "https://psbdmp.ws/api/v3"
)

// Paste is one indexed paste mentioning the domain.
type Paste struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Time   string `json:"time,omitempty"`
	Tags   string `json:"tags,omitempty"`
	Length int    `json:"length,omitempty"`
	// Indicators lists credential-like patterns found in the dump.
	Indicators []string `json:"indicators,omitempty"`
	// Checked is false when the dump content was not fetched.
	Checked bool `json:"checked"`
}

// Data is the payload of one run.
type Data struct {
	Domain string  `json:"domain"`
	Pastes []Paste `json:"pastes"`
}

type searchItem struct {
	ID     string `json:"id"`
	Time   string `json:"time"`
	Tags   string `json:"tags"`
	Length int    `json:"length"`
	Text   string `json:"text"`
}

// Module searches the psbdmp paste index.
type Module struct {
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Paste monitor",
		Source:      "pastebin",
		Description: "Public pastes mentioning the domain, flagged when they look like credential dumps",
		Quota:       ratelimit.Quota{RequestsPerSecond: 0.5, Burst: 1},
	}
}

func (m *Module) base() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	return defaultBase
}

// decodeSearch accepts both the bare array and the {"data": [...]} shape.
func decodeSearch(body []byte) ([]searchItem, error) {
	var items []searchItem
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Data []searchItem `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, core.ParseError("psbdmp search", "unexpected response shape", err)
	}
	return wrapped.Data, nil
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	client := env.HTTP()
	resp, err := client.Get(ctx, m.base()+"/search/"+url.PathEscape(target.Domain), nil)
	if err != nil {
		if source.IsNotFound(err) {
			return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: &Data{Domain: target.Domain}}, nil
		}
		return core.RawResult{}, err
	}
	items, err := decodeSearch(resp.Body)
	if err != nil {
		return core.RawResult{}, err
	}

	maxDumps := 5
	if n, ok := env.Config.Options["max_dumps"].(int); ok && n >= 0 {
		maxDumps = n
	}
	data := &Data{Domain: target.Domain}
	var errs []string
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		p := Paste{ID: it.ID, URL: "https://pastebin.com/" + it.ID, Time: it.Time, Tags: it.Tags, Length: it.Length}
		text := it.Text
		if text == "" && maxDumps > 0 {
			maxDumps--
			var dump struct {
				Content string `json:"content"`
			}
			if err := client.GetJSON(ctx, m.base()+"/dump/"+url.PathEscape(it.ID), nil, &dump); err != nil {
				if ctx.Err() != nil {
					return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
				}
				errs = append(errs, fmt.Sprintf("dump %s: %v", it.ID, err))
			} else {
				text = dump.Content
			}
		}
		if text != "" {
			p.Checked = true
			p.Indicators = indicators(text, target.Domain)
		}
		data.Pastes = append(data.Pastes, p)
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

var credentialPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"password assignment", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*\S{4,}`)},
	{"API key or token", regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[\w\-]{16,}`)},
	{"private key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"AWS access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
}

// indicators reports credential-like content. Combo lines
// (user@domain:secret) are checked against the target domain.
func indicators(text, domain string) []string {
	var out []string
	combo := regexp.MustCompile(`(?im)^[\w.+-]+@` + regexp.QuoteMeta(domain) + `\s*[:;|]\s*\S+`)
	if combo.MatchString(text) {
		out = append(out, "email:password combo")
	}
	for _, p := range credentialPatterns {
		if p.re.MatchString(text) {
			out = append(out, p.label)
		}
	}
	return out
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	d, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	var out []core.Finding
	for _, p := range d.Pastes {
		f := core.Finding{
			Category:    core.CategoryPaste,
			Severity:    core.SeverityMedium,
			Confidence:  0.6,
			Title:       "Paste mentions the domain: " + p.ID,
			Description: fmt.Sprintf("A public paste from %s references %s.", firstNonEmpty(p.Time, "an unknown date"), d.Domain),
			Evidence:    map[string]any{"url": p.URL, "time": p.Time, "tags": p.Tags, "checked": p.Checked},
			Observable:  p.URL,
			Recommendations: []string{
				"Review the paste and rotate any credential it exposes.",
			},
		}
		if len(p.Indicators) > 0 {
			f.Severity = core.SeverityHigh
			f.Confidence = 0.8
			f.Title = "Paste with credential-like content: " + p.ID
			f.Evidence["indicators"] = p.Indicators
			f.Recommendations = append(f.Recommendations, "Request takedown of the paste.")
		}
		out = append(out, f)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
