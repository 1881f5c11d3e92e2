package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

const ID = "dns"

var (
	defaultResolvers = []string{"1.1.1.1:53", "8.8.8.8:53"}
	dkimSelectors    = []string{"default", "google", "selector1", "selector2", "mail", "k1"}
)

// Exchanger sends one DNS message; *mdns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *mdns.Msg, address string) (*mdns.Msg, time.Duration, error)
}

// Records is the collected public DNS data of the target.
type Records struct {
	Domain        string            `json:"domain"`
	A             []string          `json:"a,omitempty"`
	AAAA          []string          `json:"aaaa,omitempty"`
	CNAME         []string          `json:"cname,omitempty"`
	MX            []string          `json:"mx,omitempty"`
	NS            []string          `json:"ns,omitempty"`
	TXT           []string          `json:"txt,omitempty"`
	CAA           []string          `json:"caa,omitempty"`
	SOA           string            `json:"soa,omitempty"`
	DMARC         []string          `json:"dmarc,omitempty"`
	DKIMSelectors []string          `json:"dkim_selectors,omitempty"`
	MTASTS        string            `json:"mta_sts,omitempty"`
	MTASTSPolicy  map[string]string `json:"mta_sts_policy,omitempty"`
	DNSKEY        bool              `json:"dnskey"`
}

// Module queries public DNS records through a recursive resolver.
type Module struct {
	// Exchanger defaults to a UDP client with TCP fallback on truncation.
	Exchanger Exchanger
	// Resolvers overrides /etc/resolv.conf.
	Resolvers []string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "DNS records",
		Source:      "dns",
		Description: "A/AAAA/MX/NS/TXT/CAA plus SPF, DMARC, DKIM and MTA-STS posture",
		Quota:       ratelimit.Quota{RequestsPerSecond: 20, Burst: 5},
	}
}

func (m *Module) resolvers(env module.Env) []string {
	if r := env.Config.StringsOption("resolvers", nil); len(r) > 0 {
		return withPort(r)
	}
	if len(m.Resolvers) > 0 {
		return withPort(m.Resolvers)
	}
	if conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		out := make([]string, 0, len(conf.Servers))
		for _, s := range conf.Servers {
			out = append(out, net.JoinHostPort(s, conf.Port))
		}
		return out
	}
	return defaultResolvers
}

func withPort(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	return out
}

type resolver struct {
	ex      Exchanger
	servers []string
	lim     *ratelimit.Limiter
}

// query asks each server in turn. A nil answer with nil error means the
// name has no records of that type.
func (r *resolver) query(ctx context.Context, name string, qtype uint16) ([]mdns.RR, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(name), qtype)
	msg.SetEdns0(4096, false)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := r.lim.Wait(ctx); err != nil {
			return nil, core.TimeoutError("dns "+name, err)
		}
		in, _, err := r.ex.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Truncated {
			tcp := &mdns.Client{Net: "tcp", Timeout: 5 * time.Second}
			if in2, _, err := tcp.ExchangeContext(ctx, msg, server); err == nil {
				in = in2
			}
		}
		switch in.Rcode {
		case mdns.RcodeSuccess:
			return in.Answer, nil
		case mdns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("%s from %s", mdns.RcodeToString[in.Rcode], server)
		}
	}
	return nil, lastErr
}

func (m *Module) newResolver(env module.Env) *resolver {
	ex := m.Exchanger
	if ex == nil {
		ex = &mdns.Client{Timeout: 5 * time.Second}
	}
	return &resolver{ex: ex, servers: m.resolvers(env), lim: env.Limiter}
}

// Addresses returns the IPv4 addresses of host, throttled by env's limiter.
func (m *Module) Addresses(ctx context.Context, host string, env module.Env) ([]string, error) {
	rrs, err := m.newResolver(env).query(ctx, host, mdns.TypeA)
	if err != nil {
		if core.IsKind(err, core.KindTimeout) {
			return nil, err
		}
		return nil, core.TransportError("dns "+host, "lookup failed", 0, true, err)
	}
	var out []string
	for _, rr := range rrs {
		if a, ok := rr.(*mdns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return dedupeStrings(out), nil
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	r := m.newResolver(env)
	rec := &Records{Domain: target.Domain}
	var errs []string
	failures := 0
	total := 0

	lookup := func(name string, qtype uint16) []mdns.RR {
		total++
		rrs, err := r.query(ctx, name, qtype)
		if err != nil {
			failures++
			errs = append(errs, fmt.Sprintf("%s %s: %v", mdns.TypeToString[qtype], name, err))
		}
		return rrs
	}

	d := target.Domain
	for _, rr := range lookup(d, mdns.TypeA) {
		if a, ok := rr.(*mdns.A); ok {
			rec.A = append(rec.A, a.A.String())
		}
	}
	for _, rr := range lookup(d, mdns.TypeAAAA) {
		if a, ok := rr.(*mdns.AAAA); ok {
			rec.AAAA = append(rec.AAAA, a.AAAA.String())
		}
	}
	for _, rr := range lookup("www."+d, mdns.TypeCNAME) {
		if c, ok := rr.(*mdns.CNAME); ok {
			rec.CNAME = append(rec.CNAME, core.NormalizeHost(c.Target))
		}
	}
	for _, rr := range lookup(d, mdns.TypeMX) {
		if mx, ok := rr.(*mdns.MX); ok {
			if h := core.NormalizeHost(mx.Mx); h != "" {
				rec.MX = append(rec.MX, h)
			}
		}
	}
	for _, rr := range lookup(d, mdns.TypeNS) {
		if ns, ok := rr.(*mdns.NS); ok {
			rec.NS = append(rec.NS, core.NormalizeHost(ns.Ns))
		}
	}
	rec.TXT = txtValues(lookup(d, mdns.TypeTXT))
	for _, rr := range lookup(d, mdns.TypeCAA) {
		if caa, ok := rr.(*mdns.CAA); ok {
			rec.CAA = append(rec.CAA, fmt.Sprintf("%d %s %q", caa.Flag, caa.Tag, caa.Value))
		}
	}
	for _, rr := range lookup(d, mdns.TypeSOA) {
		if soa, ok := rr.(*mdns.SOA); ok {
			rec.SOA = fmt.Sprintf("%s %s %d", core.NormalizeHost(soa.Ns), core.NormalizeHost(soa.Mbox), soa.Serial)
		}
	}
	rec.DNSKEY = len(lookup(d, mdns.TypeDNSKEY)) > 0

	for _, t := range txtValues(lookup("_dmarc."+d, mdns.TypeTXT)) {
		if strings.HasPrefix(strings.ToLower(t), "v=dmarc1") {
			rec.DMARC = append(rec.DMARC, t)
		}
	}
	if len(rec.MX) > 0 {
		for _, sel := range dkimSelectors {
			for _, t := range txtValues(lookup(sel+"._domainkey."+d, mdns.TypeTXT)) {
				if strings.Contains(strings.ToLower(t), "p=") {
					rec.DKIMSelectors = append(rec.DKIMSelectors, sel)
					break
				}
			}
		}
		for _, t := range txtValues(lookup("_mta-sts."+d, mdns.TypeTXT)) {
			if strings.HasPrefix(strings.ToLower(t), "v=stsv1") {
				rec.MTASTS = t
			}
		}
		if rec.MTASTS != "" && env.Client != nil {
			resp, err := env.Client.Get(ctx, "https://mta-sts."+d+"/.well-known/mta-sts.txt", nil)
			if err != nil {
				errs = append(errs, fmt.Sprintf("mta-sts policy: %v", err))
			} else {
				rec.MTASTSPolicy = parseMtaSts(string(resp.Body))
			}
		}
	}

	rec.MX = dedupeStrings(rec.MX)
	rec.NS = dedupeStrings(rec.NS)

	if failures == total {
		return core.RawResult{}, core.TransportError("dns "+d, "every lookup failed", 0, true, errors.New(strings.Join(errs, "; ")))
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: rec, Errors: errs}, nil
}

func txtValues(rrs []mdns.RR) []string {
	var out []string
	for _, rr := range rrs {
		if t, ok := rr.(*mdns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	rec, ok := raw.Payload.(*Records)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(rec), nil
}
