package ctlogs

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const ID = "ct_logs"

// Host is one name seen in certificate transparency data.
type Host struct {
	Name     string   `json:"name"`
	Wildcard bool     `json:"wildcard,omitempty"`
	Sources  []string `json:"sources"`
	Issuers  []string `json:"issuers,omitempty"`
}

// Result is the merged view over every queried log aggregator.
type Result struct {
	Domain  string         `json:"domain"`
	Hosts   []Host         `json:"hosts"`
	Queried []string       `json:"queried"`
	Counts  map[string]int `json:"counts"`
}

type fetcher func(ctx context.Context, c *source.Client, base, domain string) ([]entry, error)

type entry struct {
	name, issuer string
}

// Module queries public certificate transparency aggregators. A failing
// aggregator is tolerated as long as one answers.
type Module struct {
	// Endpoints maps aggregator names to base URLs.
	Endpoints map[string]string
}

var fetchers = map[string]fetcher{
	"crtsh":        fromCrtSh,
	"certspotter":  fromCertSpotter,
	"hackertarget": fromHackerTarget,
	"alienvault":   fromAlienVault,
	"anubis":       fromAnubis,
}

var defaultEndpoints = map[string]string{
	"crtsh":        "https://crt.sh",
	"certspotter":  "https://api.certspotter.com",
	"hackertarget": "https://api.hackertarget.com",
	"alienvault":   "https://otx.alienvault.com",
	"anubis":       "https://jldc.me",
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Certificate transparency",
		Source:      "crt.sh",
		Description: "Subdomains from crt.sh and CertSpotter issuance logs",
		Quota:       ratelimit.Quota{RequestsPerSecond: 1, Burst: 1},
	}
}

func (m *Module) endpoint(name string) string {
	if u, ok := m.Endpoints[name]; ok {
		return strings.TrimRight(u, "/")
	}
	return defaultEndpoints[name]
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	names := env.Config.StringsOption("sources", []string{"crtsh", "certspotter"})
	client := env.HTTP()
	log := env.Logger()

	hosts := map[string]*Host{}
	res := &Result{Domain: target.Domain, Counts: map[string]int{}}
	var (
		errs    []string
		lastErr error
	)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		fetch, ok := fetchers[name]
		if !ok {
			return core.RawResult{}, core.ConfigError(ID, "unknown sub-source "+name, nil)
		}
		entries, err := fetch(ctx, client, m.endpoint(name), target.Domain)
		if err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			log.WithError(err).WithField("sub_source", name).Warn("CT sub-source failed")
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			lastErr = err
			continue
		}
		res.Queried = append(res.Queried, name)
		for _, e := range entries {
			wildcard := strings.HasPrefix(strings.TrimSpace(e.name), "*.")
			h := core.NormalizeHost(e.name)
			if h == "" || !target.Owns(h) {
				continue
			}
			host, ok := hosts[h]
			if !ok {
				host = &Host{Name: h}
				hosts[h] = host
			}
			host.Wildcard = host.Wildcard || wildcard
			host.Sources = appendUnique(host.Sources, name)
			if e.issuer != "" {
				host.Issuers = appendUnique(host.Issuers, e.issuer)
			}
		}
		res.Counts[name] = len(entries)
	}
	if len(res.Queried) == 0 {
		if lastErr == nil {
			return core.RawResult{}, core.ConfigError(ID, "no sub-sources configured", nil)
		}
		return core.RawResult{}, lastErr
	}

	for _, h := range hosts {
		res.Hosts = append(res.Hosts, *h)
	}
	sort.Slice(res.Hosts, func(i, j int) bool { return res.Hosts[i].Name < res.Hosts[j].Name })
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: res, Errors: errs}, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func fromCrtSh(ctx context.Context, c *source.Client, base, domain string) ([]entry, error) {
	var data []struct {
		NameValue  string `json:"name_value"`
		CommonName string `json:"common_name"`
		IssuerName string `json:"issuer_name"`
	}
	u := fmt.Sprintf("%s/?q=%s&output=json", base, url.QueryEscape("%."+domain))
	if err := c.GetJSON(ctx, u, nil, &data); err != nil {
		return nil, err
	}
	var out []entry
	for _, d := range data {
		for _, n := range strings.Split(d.NameValue+"\n"+d.CommonName, "\n") {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, entry{name: n, issuer: issuerOrg(d.IssuerName)})
			}
		}
	}
	return out, nil
}

// issuerOrg extracts O= from a distinguished name.
func issuerOrg(dn string) string {
	for _, part := range strings.Split(dn, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "O") {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

func fromCertSpotter(ctx context.Context, c *source.Client, base, domain string) ([]entry, error) {
	var data []struct {
		DNSNames []string `json:"dns_names"`
		Issuer   struct {
			FriendlyName string `json:"friendly_name"`
		} `json:"issuer"`
	}
	u := fmt.Sprintf("%s/v1/issuances?domain=%s&include_subdomains=true&expand=dns_names&expand=issuer", base, url.QueryEscape(domain))
	if err := c.GetJSON(ctx, u, nil, &data); err != nil {
		return nil, err
	}
	var out []entry
	for _, d := range data {
		for _, n := range d.DNSNames {
			out = append(out, entry{name: n, issuer: d.Issuer.FriendlyName})
		}
	}
	return out, nil
}

// fromHackerTarget parses "host,ip" lines.
func fromHackerTarget(ctx context.Context, c *source.Client, base, domain string) ([]entry, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("%s/hostsearch/?q=%s", base, url.QueryEscape(domain)), nil)
	if err != nil {
		return nil, err
	}
	body := string(resp.Body)
	if strings.HasPrefix(body, "error") || strings.Contains(body, "API count exceeded") {
		return nil, core.RateLimitedError("hackertarget", 0, 0)
	}
	var out []entry
	for _, line := range strings.Split(body, "\n") {
		host, _, _ := strings.Cut(line, ",")
		if host = strings.TrimSpace(host); host != "" {
			out = append(out, entry{name: host})
		}
	}
	return out, nil
}

func fromAlienVault(ctx context.Context, c *source.Client, base, domain string) ([]entry, error) {
	var data struct {
		PassiveDNS []struct {
			Hostname string `json:"hostname"`
		} `json:"passive_dns"`
	}
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/api/v1/indicators/domain/%s/passive_dns", base, url.PathEscape(domain)), nil, &data); err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(data.PassiveDNS))
	for _, r := range data.PassiveDNS {
		out = append(out, entry{name: r.Hostname})
	}
	return out, nil
}

// fromAnubis returns a bare JSON list of names.
func fromAnubis(ctx context.Context, c *source.Client, base, domain string) ([]entry, error) {
	var names []string
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/anubis/subdomains/%s", base, url.PathEscape(domain)), nil, &names); err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(names))
	for _, n := range names {
		out = append(out, entry{name: n})
	}
	return out, nil
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	res, ok := raw.Payload.(*Result)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(res), nil
}
