package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const ID = "social_media"

// Platform describes how to probe one network for a handle.
type Platform struct {
	Name string
	// URL has one %s for the handle.
	URL string
	// Indicator must appear in the first part of the page.
	Indicator string
}

var defaultPlatforms = map[string]Platform{
	"twitter":   {Name: "twitter", URL: "https://x.com/%s", Indicator: "x.com"},
	"linkedin":  {Name: "linkedin", URL: "https://www.linkedin.com/company/%s", Indicator: "linkedin"},
	"facebook":  {Name: "facebook", URL: "https://www.facebook.com/%s", Indicator: "facebook"},
	"instagram": {Name: "instagram", URL: "https://www.instagram.com/%s/", Indicator: "instagram"},
	"youtube":   {Name: "youtube", URL: "https://www.youtube.com/@%s", Indicator: "youtube"},
	"xing":      {Name: "xing", URL: "https://www.xing.com/pages/%s", Indicator: "xing"},
}

var defaultOrder = []string{"github", "twitter", "linkedin", "facebook", "instagram", "youtube"}

// Profile is the probe outcome for one platform.
type Profile struct {
	Platform string            `json:"platform"`
	Exists   bool              `json:"exists"`
	Blocked  bool              `json:"blocked,omitempty"`
	Handle   string            `json:"handle,omitempty"`
	URL      string            `json:"url,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
	// MentionsDomain is set when the profile links back to the target.
	MentionsDomain bool `json:"mentions_domain"`
}

// Data is the payload of one run.
type Data struct {
	Domain   string    `json:"domain"`
	Variants []string  `json:"variants"`
	Profiles []Profile `json:"profiles"`
}

// Module probes public profile pages for handle variants of the
// organization name.
type Module struct {
	// Platforms replaces the built-in HTML platforms, mainly for tests.
	Platforms map[string]Platform
	// GitHubURL points the GitHub API client elsewhere.
	GitHubURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Social media",
		Source:      "social",
		Description: "Public organization profiles on GitHub and common social networks",
		Quota:       ratelimit.Quota{RequestsPerSecond: 1, Burst: 2},
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Variants derives candidate handles from the organization or domain slug.
func Variants(target core.Target) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	slug := strings.ToLower(target.Slug())
	add(slug)
	add(nonAlnum.ReplaceAllString(slug, ""))
	if org := strings.ToLower(strings.TrimSpace(target.Organization)); org != "" {
		for _, suffix := range []string{" inc", " gmbh", " ltd", " llc", " ag", " corp"} {
			org = strings.TrimSuffix(org, suffix)
		}
		org = strings.Trim(org, " .,")
		add(nonAlnum.ReplaceAllString(org, ""))
		add(strings.Trim(nonAlnum.ReplaceAllString(org, "-"), "-"))
	}
	parts := nonAlnum.Split(slug, -1)
	if len(parts) == 2 {
		add(parts[0] + "_" + parts[1])
	}
	return out
}

func (m *Module) platform(name string) (Platform, bool) {
	if m.Platforms != nil {
		p, ok := m.Platforms[name]
		return p, ok
	}
	p, ok := defaultPlatforms[name]
	return p, ok
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	data := &Data{Domain: target.Domain, Variants: Variants(target)}
	client := env.HTTP()
	var errs []string

	for _, name := range env.Config.StringsOption("platforms", defaultOrder) {
		name = strings.ToLower(strings.TrimSpace(name))
		var (
			p   Profile
			err error
		)
		if name == "github" {
			p, err = m.probeGitHub(ctx, env.Limiter, data.Variants, target)
		} else {
			plat, ok := m.platform(name)
			if !ok {
				env.Logger().WithField("platform", name).Warn("unknown social platform, skipping")
				continue
			}
			p, err = probeHTML(ctx, client, plat, data.Variants, target)
		}
		if err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		data.Profiles = append(data.Profiles, p)
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

// probeHTML tries every variant until one page answers 200 with the
// platform indicator. Blocked platforms (401/403/429) are not reported as
// missing.
func probeHTML(ctx context.Context, c *source.Client, p Platform, variants []string, target core.Target) (Profile, error) {
	out := Profile{Platform: p.Name}
	var lastErr error
	for _, v := range variants {
		u := fmt.Sprintf(p.URL, url.PathEscape(v))
		resp, err := c.Get(ctx, u, http.Header{"Accept": {"text/html"}})
		if err != nil {
			if source.IsNotFound(err) {
				continue
			}
			if core.IsKind(err, core.KindAuth) || core.StatusOf(err) == http.StatusTooManyRequests {
				out.Blocked = true
			}
			lastErr = err
			if ctx.Err() != nil {
				return out, err
			}
			continue
		}
		head := resp.Body
		if len(head) > 64<<10 {
			head = head[:64<<10]
		}
		if !strings.Contains(strings.ToLower(string(head)), strings.ToLower(p.Indicator)) {
			continue
		}
		out.Exists, out.Blocked = true, false
		out.Handle = v
		out.URL = resp.URL
		out.Meta = pageMeta(head)
		out.MentionsDomain = mentions(out.Meta, target.Domain) || strings.Contains(strings.ToLower(string(head)), target.Domain)
		return out, nil
	}
	return out, lastErr
}

func (m *Module) probeGitHub(ctx context.Context, lim *ratelimit.Limiter, variants []string, target core.Target) (Profile, error) {
	out := Profile{Platform: "github"}
	gh := github.NewClient(&http.Client{Timeout: 15 * time.Second})
	if m.GitHubURL != "" {
		u, err := url.Parse(strings.TrimRight(m.GitHubURL, "/") + "/")
		if err != nil {
			return out, err
		}
		gh.BaseURL = u
	}
	for _, v := range variants {
		if err := lim.Wait(ctx); err != nil {
			return out, err
		}
		user, _, err := gh.Users.Get(ctx, v)
		if err != nil {
			var er *github.ErrorResponse
			if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
				continue
			}
			var rle *github.RateLimitError
			if errors.As(err, &rle) {
				out.Blocked = true
			}
			return out, err
		}
		out.Exists = true
		out.Handle = user.GetLogin()
		out.URL = user.GetHTMLURL()
		out.Meta = map[string]string{
			"name":         user.GetName(),
			"type":         user.GetType(),
			"blog":         user.GetBlog(),
			"location":     user.GetLocation(),
			"email":        user.GetEmail(),
			"public_repos": fmt.Sprint(user.GetPublicRepos()),
		}
		out.MentionsDomain = mentions(out.Meta, target.Domain)
		return out, nil
	}
	return out, nil
}

func mentions(meta map[string]string, domain string) bool {
	for _, v := range meta {
		if strings.Contains(strings.ToLower(v), domain) {
			return true
		}
	}
	return false
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	d, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(d), nil
}
