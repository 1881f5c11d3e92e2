package shodan

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

const (
	ID          = "shodan_passive"
	defaultBase = "https://api.shodan.io"
)

type dnsRecord struct {
	Subdomain string `json:"subdomain"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

type domainResponse struct {
	Domain     string      `json:"domain"`
	Subdomains []string    `json:"subdomains"`
	Data       []dnsRecord `json:"data"`
}

// Vuln is a CVE Shodan attributes to a banner.
type Vuln struct {
	CVSS    float64 `json:"cvss"`
	Summary string  `json:"summary"`
}

// Service is one banner of a host.
type Service struct {
	Port      int             `json:"port"`
	Transport string          `json:"transport"`
	Product   string          `json:"product,omitempty"`
	Version   string          `json:"version,omitempty"`
	Vulns     map[string]Vuln `json:"vulns,omitempty"`
}

// Host is the Shodan view of one IP address.
type Host struct {
	IP        string    `json:"ip_str"`
	Org       string    `json:"org,omitempty"`
	ISP       string    `json:"isp,omitempty"`
	OS        string    `json:"os,omitempty"`
	Hostnames []string  `json:"hostnames,omitempty"`
	Ports     []int     `json:"ports"`
	Vulns     []string  `json:"vulns,omitempty"`
	Services  []Service `json:"data"`
	LastSeen  string    `json:"last_update,omitempty"`
}

// Data is the payload of one run.
type Data struct {
	Domain     string   `json:"domain"`
	Subdomains []string `json:"subdomains"`
	Hosts      []Host   `json:"hosts"`
	// IPs lists the addresses the hosts were looked up for.
	IPs []string `json:"ips"`
}

// Module reads existing Shodan data; it never triggers a scan.
type Module struct {
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Shodan (passive)",
		Source:      "shodan",
		Description: "Indexed subdomains, open services and known CVEs from Shodan",
		RequiresKey: true,
		KeyEnv:      "SHODAN_API_KEY",
		Quota:       ratelimit.Quota{RequestsPerSecond: 1, Burst: 1},
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
	key := url.QueryEscape(env.APIKey)
	maxHosts := 10
	if n, ok := env.Config.Options["max_hosts"].(int); ok && n > 0 {
		maxHosts = n
	}

	var dr domainResponse
	if err := client.GetJSON(ctx, fmt.Sprintf("%s/dns/domain/%s?key=%s", m.base(), url.PathEscape(target.Domain), key), nil, &dr); err != nil {
		if !source.IsNotFound(err) {
			return core.RawResult{}, err
		}
	}

	data := &Data{Domain: target.Domain}
	seenSub := map[string]bool{}
	for _, s := range dr.Subdomains {
		if s = strings.TrimSpace(s); s != "" && !seenSub[s] {
			seenSub[s] = true
			data.Subdomains = append(data.Subdomains, core.NormalizeHost(s+"."+target.Domain))
		}
	}
	sort.Strings(data.Subdomains)

	seenIP := map[string]bool{}
	for _, r := range dr.Data {
		if r.Type != "A" || seenIP[r.Value] {
			continue
		}
		seenIP[r.Value] = true
		data.IPs = append(data.IPs, r.Value)
	}
	sort.Strings(data.IPs)
	if len(data.IPs) > maxHosts {
		data.IPs = data.IPs[:maxHosts]
	}

	var errs []string
	for _, ip := range data.IPs {
		var h Host
		err := client.GetJSON(ctx, fmt.Sprintf("%s/shodan/host/%s?key=%s", m.base(), url.PathEscape(ip), key), nil, &h)
		switch {
		case err == nil:
			if h.IP == "" {
				h.IP = ip
			}
			data.Hosts = append(data.Hosts, h)
		case source.IsNotFound(err):
		case core.IsKind(err, core.KindAuth), ctx.Err() != nil:
			return core.RawResult{}, err
		default:
			errs = append(errs, fmt.Sprintf("host %s: %v", ip, err))
		}
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
