package techfingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
	"github.com/shii9/PassiveNio/internal/source"
)

const ID = "tech_fingerprint"

// Cookie keeps the attributes of a Set-Cookie header, never its value.
type Cookie struct {
	Name     string `json:"name"`
	Secure   bool   `json:"secure"`
	HttpOnly bool   `json:"http_only"`
	SameSite string `json:"same_site"`
}

// Certificate describes the leaf certificate served on the homepage.
type Certificate struct {
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"not_after"`
	SANs     []string  `json:"sans,omitempty"`
	Protocol string    `json:"protocol"`
}

// Fingerprint is the homepage snapshot the findings are derived from.
type Fingerprint struct {
	URL          string            `json:"url"`
	HTTPS        bool              `json:"https"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers"`
	Cookies      []Cookie          `json:"cookies,omitempty"`
	Page         Page              `json:"page"`
	Technologies []Technology      `json:"technologies"`
	TLS          *Certificate      `json:"tls,omitempty"`
	// Now is the capture time used for certificate checks.
	Now time.Time `json:"-"`
}

var securityHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Referrer-Policy",
	"Permissions-Policy",
}

var disclosureHeaders = []string{"Server", "X-Powered-By", "X-AspNet-Version", "X-AspNetMvc-Version", "X-Generator"}

// Module fetches the public homepage once and fingerprints it.
type Module struct {
	// BaseURL replaces https://<domain> when set.
	BaseURL string
}

func New() *Module { return &Module{} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Technology fingerprint",
		Source:      "http",
		Description: "Server software, frameworks and security headers of the public homepage",
		Quota:       ratelimit.Quota{RequestsPerSecond: 2, Burst: 2},
	}
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	client := env.HTTP()
	urls := []string{"https://" + target.Domain, "http://" + target.Domain}
	if m.BaseURL != "" {
		urls = []string{m.BaseURL}
	}

	var (
		resp *source.Response
		err  error
	)
	for _, u := range urls {
		resp, err = client.Get(ctx, u, http.Header{"Accept": {"text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"}})
		if err == nil || core.IsKind(err, core.KindTimeout) || core.StatusOf(err) != 0 {
			break
		}
		env.Logger().WithError(err).WithField("url", u).Debug("homepage fetch failed, trying next scheme")
	}
	if err != nil {
		return core.RawResult{}, err
	}

	fp := &Fingerprint{
		URL:     resp.URL,
		HTTPS:   strings.HasPrefix(resp.URL, "https://"),
		Status:  resp.Status,
		Headers: map[string]string{},
		Now:     time.Now().UTC(),
	}
	for _, k := range append(append([]string{}, securityHeaders...), disclosureHeaders...) {
		if v := resp.Header.Get(k); v != "" {
			fp.Headers[k] = v
		}
	}
	for _, c := range (&http.Response{Header: resp.Header}).Cookies() {
		fp.Cookies = append(fp.Cookies, Cookie{Name: c.Name, Secure: c.Secure, HttpOnly: c.HttpOnly, SameSite: sameSite(c.SameSite)})
	}
	fp.Page = parsePage(resp.Body)
	fp.Technologies = detect(resp.Header, fp.Cookies, fp.Page, string(resp.Body))
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		cert := resp.TLS.PeerCertificates[0]
		fp.TLS = &Certificate{
			Subject:  cert.Subject.CommonName,
			Issuer:   cert.Issuer.String(),
			NotAfter: cert.NotAfter,
			SANs:     cert.DNSNames,
			Protocol: tlsVersion(resp.TLS.Version),
		}
	}
	return core.RawResult{ModuleID: ID, CapturedAt: fp.Now, Payload: fp}, nil
}

func sameSite(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

func tlsVersion(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return fmt.Sprintf("0x%x", v)
	}
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	fp, ok := raw.Payload.(*Fingerprint)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(fp), nil
}
