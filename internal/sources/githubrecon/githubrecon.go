package githubrecon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

const ID = "github_recon"

// CodeHit is one code search result mentioning the target.
type CodeHit struct {
	Repository string   `json:"repository"`
	Path       string   `json:"path"`
	URL        string   `json:"url"`
	Fragments  []string `json:"fragments,omitempty"`
}

// Org is the public profile of the organization account.
type Org struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Blog        string `json:"blog,omitempty"`
	Email       string `json:"email,omitempty"`
	Description string `json:"description,omitempty"`
	PublicRepos int    `json:"public_repos"`
}

// Repo is one public repository of the organization.
type Repo struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
	Stars       int       `json:"stars"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	URL         string    `json:"url"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Data is the payload of one run.
type Data struct {
	Query string    `json:"query"`
	Org   *Org      `json:"org,omitempty"`
	Repos []Repo    `json:"repos,omitempty"`
	Hits  []CodeHit `json:"hits,omitempty"`
}

// Module searches public GitHub code and the organization's repositories.
type Module struct {
	// BaseURL points the API client elsewhere, mainly for tests.
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "GitHub recon",
		Source:      "github",
		Description: "Public code mentioning the domain and the organization's public repositories",
		RequiresKey: true,
		KeyEnv:      "GITHUB_TOKEN",
		Quota:       ratelimit.Quota{RequestsPerSecond: 0.5, Burst: 1},
	}
}

func (m *Module) client(ctx context.Context, token string) (*github.Client, error) {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = 20 * time.Second
	c := github.NewClient(hc)
	if m.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(m.BaseURL, "/") + "/")
		if err != nil {
			return nil, core.ConfigError(ID, "invalid base URL", err)
		}
		c.BaseURL = u
	}
	return c, nil
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	gh, err := m.client(ctx, env.APIKey)
	if err != nil {
		return core.RawResult{}, err
	}
	lim := env.Limiter
	orgName := env.Config.Option("org", target.Slug())
	data := &Data{Query: fmt.Sprintf("%q", target.Domain)}
	var errs []string

	if err := lim.Wait(ctx); err != nil {
		return core.RawResult{}, core.TimeoutError(ID, err)
	}
	res, _, err := gh.Search.Code(ctx, data.Query, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		err = mapError("search code", err, lim)
		if core.IsKind(err, core.KindAuth) || core.IsRetryable(err) || ctx.Err() != nil {
			return core.RawResult{}, err
		}
		errs = append(errs, err.Error())
	} else {
		for _, r := range res.CodeResults {
			hit := CodeHit{
				Repository: r.GetRepository().GetFullName(),
				Path:       r.GetPath(),
				URL:        r.GetHTMLURL(),
			}
			for _, tm := range r.TextMatches {
				if f := tm.GetFragment(); f != "" {
					hit.Fragments = append(hit.Fragments, f)
				}
			}
			data.Hits = append(data.Hits, hit)
		}
	}

	if err := lim.Wait(ctx); err != nil {
		return core.RawResult{}, core.TimeoutError(ID, err)
	}
	org, _, err := gh.Organizations.Get(ctx, orgName)
	switch {
	case err == nil:
		data.Org = &Org{
			Login:       org.GetLogin(),
			Name:        org.GetName(),
			Blog:        org.GetBlog(),
			Email:       org.GetEmail(),
			Description: org.GetDescription(),
			PublicRepos: org.GetPublicRepos(),
		}
	case isNotFound(err):
		env.Logger().WithField("org", orgName).Debug("no GitHub organization with that name")
	default:
		errs = append(errs, mapError("get org", err, lim).Error())
	}

	if data.Org != nil {
		opts := &github.RepositoryListByOrgOptions{Type: "public", ListOptions: github.ListOptions{PerPage: 100}}
		for page := 0; page < 3; page++ {
			if err := lim.Wait(ctx); err != nil {
				return core.RawResult{}, core.TimeoutError(ID, err)
			}
			repos, resp, err := gh.Repositories.ListByOrg(ctx, orgName, opts)
			if err != nil {
				errs = append(errs, mapError("list repos", err, lim).Error())
				break
			}
			for _, r := range repos {
				data.Repos = append(data.Repos, Repo{
					Name:        r.GetFullName(),
					Description: r.GetDescription(),
					Language:    r.GetLanguage(),
					Stars:       r.GetStargazersCount(),
					Fork:        r.GetFork(),
					Archived:    r.GetArchived(),
					URL:         r.GetHTMLURL(),
					PushedAt:    r.GetPushedAt().Time,
				})
			}
			if resp == nil || resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}

// mapError translates go-github errors into the core taxonomy and feeds
// rate limit resets back into the limiter.
func mapError(op string, err error, lim *ratelimit.Limiter) error {
	var (
		rle   *github.RateLimitError
		abuse *github.AbuseRateLimitError
		er    *github.ErrorResponse
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return core.TimeoutError(op, err)
	case errors.As(err, &rle):
		wait := time.Until(rle.Rate.Reset.Time)
		lim.Defer(wait)
		return core.RateLimitedError(op, http.StatusForbidden, wait)
	case errors.As(err, &abuse):
		wait := abuse.GetRetryAfter()
		lim.Defer(wait)
		return core.RateLimitedError(op, http.StatusForbidden, wait)
	case errors.As(err, &er) && er.Response != nil:
		code := er.Response.StatusCode
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return core.AuthError(op, er.Message, code)
		case code >= 500:
			return core.TransportError(op, er.Message, code, true, err)
		default:
			return core.TransportError(op, er.Message, code, false, err)
		}
	}
	return core.TransportError(op, "request failed", 0, true, err)
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	data, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(data), nil
}
