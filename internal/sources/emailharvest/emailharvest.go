package emailharvest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const ID = "email_harvest"

var (
	emailRe      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	obfuscatedRe = regexp.MustCompile(`(?i)([a-z0-9._%+-]+)\s*[\[(]\s*at\s*[\])]\s*([a-z0-9-]+(?:\s*[\[(]\s*dot\s*[\])]\s*[a-z0-9-]+)+)`)
	dotRe        = regexp.MustCompile(`(?i)\s*[\[(]\s*dot\s*[\])]\s*`)

	defaultPaths = []string{"/contact", "/contact-us", "/impressum", "/about", "/about-us", "/team"}
	linkHints    = []string{"contact", "kontakt", "impressum", "imprint", "about", "team", "legal"}
)

// Address is one harvested address with the pages it appeared on.
type Address struct {
	Email string   `json:"email"`
	Pages []string `json:"pages"`
	Role  bool     `json:"role"`
}

// Harvest is the payload of one run.
type Harvest struct {
	Domain    string    `json:"domain"`
	Pages     []string  `json:"pages"`
	Addresses []Address `json:"addresses"`
	// External counts addresses on other domains, which are not reported.
	External int `json:"external"`
}

// Module crawls the homepage and a handful of contact pages.
type Module struct {
	// BaseURL replaces https://<domain> when set.
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "E-mail harvest",
		Source:      "http",
		Description: "Addresses on the target domain published on its own public pages",
		Quota:       ratelimit.Quota{RequestsPerSecond: 2, Burst: 2},
	}
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	base := m.BaseURL
	if base == "" {
		base = "https://" + target.Domain
	}
	base = strings.TrimRight(base, "/")
	maxPages := 8
	if n, ok := env.Config.Options["max_pages"].(int); ok && n > 0 {
		maxPages = n
	}
	client := env.HTTP()

	home, err := client.Get(ctx, base+"/", nil)
	if err != nil {
		return core.RawResult{}, err
	}

	h := &Harvest{Domain: target.Domain}
	found := map[string]*Address{}
	var errs []string

	queue := []string{home.URL}
	seen := map[string]bool{home.URL: true}
	pages := map[string]*source.Response{home.URL: home}

	doc, _ := goquery.NewDocumentFromReader(bytes.NewReader(home.Body))
	for _, link := range contactLinks(doc, home.URL, target) {
		if !seen[link] {
			seen[link] = true
			queue = append(queue, link)
		}
	}
	for _, p := range env.Config.StringsOption("paths", defaultPaths) {
		u := base + "/" + strings.TrimLeft(p, "/")
		if !seen[u] {
			seen[u] = true
			queue = append(queue, u)
		}
	}
	if len(queue) > maxPages {
		queue = queue[:maxPages]
	}

	for _, u := range queue {
		resp, ok := pages[u]
		if !ok {
			resp, err = client.Get(ctx, u, nil)
			if err != nil {
				if ctx.Err() != nil {
					return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
				}
				if !source.IsNotFound(err) {
					errs = append(errs, fmt.Sprintf("%s: %v", u, err))
				}
				continue
			}
		}
		h.Pages = append(h.Pages, u)
		for _, e := range extract(resp.Body) {
			_, domain, _ := strings.Cut(e, "@")
			if !target.Owns(domain) {
				h.External++
				continue
			}
			a, ok := found[e]
			if !ok {
				a = &Address{Email: e, Role: isRole(e)}
				found[e] = a
			}
			if len(a.Pages) == 0 || a.Pages[len(a.Pages)-1] != u {
				a.Pages = append(a.Pages, u)
			}
		}
	}

	for _, a := range found {
		h.Addresses = append(h.Addresses, *a)
	}
	sort.Slice(h.Addresses, func(i, j int) bool { return h.Addresses[i].Email < h.Addresses[j].Email })
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: h, Errors: errs}, nil
}

// contactLinks returns same-site links whose text or path looks like a
// contact or legal page.
func contactLinks(doc *goquery.Document, pageURL string, target core.Target) []string {
	if doc == nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.ToLower(s.Text() + " " + href)
		hit := false
		for _, hint := range linkHints {
			if strings.Contains(text, hint) {
				hit = true
				break
			}
		}
		if !hit {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if abs.Host != base.Host && !target.Owns(abs.Hostname()) {
			return
		}
		abs.Fragment = ""
		out = append(out, abs.String())
	})
	return out
}

// extract finds addresses in mailto links, visible text and common
// "name [at] domain [dot] tld" spellings.
func extract(body []byte) []string {
	set := map[string]struct{}{}
	add := func(e string) {
		e = strings.ToLower(strings.Trim(e, ".,;:<>()[]\"' "))
		if emailRe.MatchString(e) && !looksLikeAsset(e) {
			set[e] = struct{}{}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	text := string(body)
	if err == nil {
		doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			addr := href[len("mailto:"):]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if dec, err := url.PathUnescape(addr); err == nil {
				addr = dec
			}
			for _, a := range strings.Split(addr, ",") {
				add(a)
			}
		})
		doc.Find("script, style").Remove()
		text = doc.Text()
	}
	for _, e := range emailRe.FindAllString(text, -1) {
		add(e)
	}
	for _, m := range obfuscatedRe.FindAllStringSubmatch(text, -1) {
		add(m[1] + "@" + dotRe.ReplaceAllString(m[2], "."))
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// looksLikeAsset drops retina image names such as logo@2x.png.
func looksLikeAsset(e string) bool {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"} {
		if strings.HasSuffix(e, ext) {
			return true
		}
	}
	return false
}

var roleLocals = map[string]bool{
	"info": true, "contact": true, "admin": true, "support": true, "sales": true, "hello": true,
	"office": true, "press": true, "media": true, "hr": true, "jobs": true, "careers": true,
	"billing": true, "security": true, "abuse": true, "noreply": true, "no-reply": true,
	"webmaster": true, "postmaster": true, "privacy": true, "legal": true, "marketing": true,
	"team": true, "service": true, "kontakt": true, "mail": true, "help": true,
}

func isRole(email string) bool {
	local, _, _ := strings.Cut(email, "@")
	local = strings.SplitN(local, "+", 2)[0]
	return roleLocals[local]
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	h, ok := raw.Payload.(*Harvest)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	var out []core.Finding
	var personal []string
	for _, a := range h.Addresses {
		kind := "role"
		if !a.Role {
			kind = "personal"
			personal = append(personal, a.Email)
		}
		out = append(out, core.Finding{
			Category:    core.CategoryEmail,
			Severity:    core.SeverityInfo,
			Confidence:  0.9,
			Title:       "E-mail address published: " + a.Email,
			Description: fmt.Sprintf("A %s address found on %d public page(s).", kind, len(a.Pages)),
			Evidence:    map[string]any{"pages": a.Pages, "kind": kind},
			Observable:  a.Email,
		})
	}
	if len(personal) > 0 {
		out = append(out, core.Finding{
			Category:    core.CategoryEmail,
			Severity:    core.SeverityLow,
			Confidence:  0.7,
			Title:       "Personal e-mail addresses on public pages",
			Description: fmt.Sprintf("%d personal addresses are published and reveal the address format used for staff.", len(personal)),
			Evidence:    map[string]any{"addresses": personal},
			Recommendations: []string{
				"Publish role addresses or contact forms instead of personal addresses.",
			},
		})
	}
	return out, nil
}
