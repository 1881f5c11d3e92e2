package ipintel

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
	"github.com/shii9/PassiveNio/internal/sources/dns"
)

const (
	ID = "ip_intel"

	defaultIPInfo  = "https://ipinfo.io"
	defaultReverse = "https://api.hackertarget.com/reverseiplookup/"
	maxIPTargets   = 3
)

// RIR endpoints, tried in order until one knows the address.
var defaultRDAP = []string{
	"https://rdap.arin.net/registry/ip/",
	"https://rdap.db.ripe.net/ip/",
	"https://rdap.apnic.net/ip/",
	"https://rdap.lacnic.net/rdap/ip/",
	"https://rdap.afri.nic.net/rdap/ip/",
}

// Resolver maps a host name to IPv4 addresses.
type Resolver interface {
	Addresses(ctx context.Context, host string, env module.Env) ([]string, error)
}

// Network is the registry allocation an address belongs to.
type Network struct {
	Handle        string   `json:"handle,omitempty"`
	Name          string   `json:"name,omitempty"`
	CIDR          string   `json:"cidr,omitempty"`
	Range         string   `json:"range,omitempty"`
	Country       string   `json:"country,omitempty"`
	Registry      string   `json:"registry,omitempty"`
	AbuseContacts []string `json:"abuse_contacts,omitempty"`
}

// Address is everything learned about one IP of the target.
type Address struct {
	IP       string   `json:"ip"`
	Hosts    []string `json:"hosts"`
	ASN      string   `json:"asn,omitempty"`
	Org      string   `json:"org,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	City     string   `json:"city,omitempty"`
	Region   string   `json:"region,omitempty"`
	Country  string   `json:"country,omitempty"`
	Network  *Network `json:"network,omitempty"`
	// CoHosted lists other names served from the same address.
	CoHosted []string `json:"co_hosted,omitempty"`
}

// Data is the payload of one run.
type Data struct {
	Domain    string    `json:"domain"`
	Addresses []Address `json:"addresses"`
}

// Module describes where the target is hosted: owner network, geography
// and neighbours on the same address. Only third-party registries and
// APIs are queried.
type Module struct {
	Resolver   Resolver
	IPInfoURL  string
	RDAPURLs   []string
	ReverseURL string
}

func New() *Module { return &Module{Resolver: dns.New()} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "IP intelligence",
		Source:      "ipinfo",
		Description: "Hosting network, registry allocation and reverse-IP neighbours of the target's addresses",
		KeyEnv:      "IPINFO_TOKEN",
		Quota:       ratelimit.Quota{RequestsPerSecond: 1, Burst: 2},
	}
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	log := env.Logger()
	res := m.Resolver
	if res == nil {
		res = dns.New()
	}

	hosts := []string{target.Domain, "www." + target.Domain}
	byIP := map[string]*Address{}
	var order []string
	var errs []string
	resolved := 0
	for _, h := range hosts {
		ips, err := res.Addresses(ctx, h, env)
		if err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			errs = append(errs, fmt.Sprintf("resolve %s: %v", h, err))
			continue
		}
		resolved++
		for _, ip := range ips {
			a, ok := byIP[ip]
			if !ok {
				a = &Address{IP: ip}
				byIP[ip] = a
				order = append(order, ip)
			}
			a.Hosts = append(a.Hosts, h)
		}
	}
	if resolved == 0 {
		return core.RawResult{}, core.TransportError(ID, strings.Join(errs, "; "), 0, true, nil)
	}

	limit := maxIPTargets
	if n, ok := env.Config.Options["max_ips"].(int); ok && n > 0 {
		limit = n
	}
	if len(order) > limit {
		log.WithField("addresses", len(order)).Debugf("Limiting lookups to %d addresses", limit)
		order = order[:limit]
	}
	reverse := true
	if v, ok := env.Config.Options["reverse_ip"].(bool); ok {
		reverse = v
	}

	client := env.HTTP()
	data := &Data{Domain: target.Domain}
	lookups, failed := 0, 0
	var lastErr error
	note := func(op string, err error) {
		failed++
		lastErr = err
		errs = append(errs, fmt.Sprintf("%s: %v", op, err))
	}
	for _, ip := range order {
		a := byIP[ip]
		lookups++
		if err := m.ipinfo(ctx, client, ip, env.APIKey, a); err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			note("ipinfo "+ip, err)
		}
		lookups++
		if nw, err := m.rdap(ctx, client, ip); err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			note("rdap "+ip, err)
		} else {
			a.Network = nw
		}
		if reverse {
			lookups++
			names, err := m.reverseIP(ctx, client, ip)
			if err != nil {
				if ctx.Err() != nil {
					return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
				}
				note("reverse-ip "+ip, err)
			}
			a.CoHosted = names
		}
		data.Addresses = append(data.Addresses, *a)
	}
	if lookups > 0 && failed == lookups {
		return core.RawResult{}, lastErr
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

type ipinfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
}

func (m *Module) ipinfo(ctx context.Context, c *source.Client, ip, token string, a *Address) error {
	base := strings.TrimRight(m.IPInfoURL, "/")
	if base == "" {
		base = defaultIPInfo
	}
	u := base + "/" + url.PathEscape(ip) + "/json"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	var r ipinfoResponse
	if err := c.GetJSON(ctx, u, nil, &r); err != nil {
		return err
	}
	a.ASN, a.Org = parseOrgField(r.Org)
	a.Hostname = core.NormalizeHost(r.Hostname)
	a.City, a.Region, a.Country = r.City, r.Region, r.Country
	return nil
}

// parseOrgField splits ipinfo's "AS15169 Google LLC".
func parseOrgField(org string) (asn, name string) {
	org = strings.TrimSpace(org)
	if strings.HasPrefix(org, "AS") {
		if i := strings.IndexByte(org, ' '); i > 0 {
			return org[:i], strings.TrimSpace(org[i+1:])
		}
		return org, ""
	}
	return "", org
}

func (m *Module) reverseIP(ctx context.Context, c *source.Client, ip string) ([]string, error) {
	base := m.ReverseURL
	if base == "" {
		base = defaultReverse
	}
	resp, err := c.Get(ctx, base+"?q="+url.QueryEscape(ip), nil)
	if err != nil {
		return nil, err
	}
	return parseReverse(string(resp.Body))
}

// parseReverse reads hackertarget's one-name-per-line answer. The API
// reports quota and lookup errors in the body with a 200 status.
func parseReverse(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	lower := strings.ToLower(body)
	switch {
	case strings.HasPrefix(lower, "api count exceeded"):
		return nil, core.RateLimitedError("reverse-ip", 200, time.Hour)
	case strings.HasPrefix(lower, "error"):
		return nil, core.TransportError("reverse-ip", body, 200, false, nil)
	case body == "" || strings.HasPrefix(lower, "no dns a records"):
		return nil, nil
	}
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(body, "\n") {
		h := core.NormalizeHost(line)
		if h == "" || !strings.Contains(h, ".") || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}
