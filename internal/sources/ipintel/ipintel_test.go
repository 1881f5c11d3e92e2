package ipintel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

type fakeResolver map[string][]string

func (f fakeResolver) Addresses(_ context.Context, host string, _ module.Env) ([]string, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return ips, nil
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ipinfo/192.0.2.10/json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip":"192.0.2.10","hostname":"edge.cloudflare.net","city":"Frankfurt","country":"DE","org":"AS13335 Cloudflare, Inc."}`)
	})
	mux.HandleFunc("/rir1/192.0.2.10", http.NotFound)
	mux.HandleFunc("/rir2/192.0.2.10", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"handle":"NET-192-0-2-0","name":"EXAMPLE-NET","startAddress":"192.0.2.0","endAddress":"192.0.2.255",
			"country":"DE","port43":"whois.ripe.net","cidr0_cidrs":[{"v4prefix":"192.0.2.0","length":24}],
			"entities":[{"roles":["registrant"],"entities":[{"roles":["abuse"],"vcardArray":["vcard",[["version",{},"text","4.0"],["email",{},"text","Abuse@Example.net"]]]}]}]}`)
	})
	mux.HandleFunc("/reverse/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "example.com\nmail.example.com\nother-site.org\nthird.net\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testModule(srv *httptest.Server, res Resolver) *Module {
	return &Module{
		Resolver:   res,
		IPInfoURL:  srv.URL + "/ipinfo",
		RDAPURLs:   []string{srv.URL + "/rir1/", srv.URL + "/rir2/"},
		ReverseURL: srv.URL + "/reverse/",
	}
}

func TestCollectAndAnalyze(t *testing.T) {
	srv := testServer(t)
	m := testModule(srv, fakeResolver{
		"example.com":     {"192.0.2.10"},
		"www.example.com": {"192.0.2.10"},
	})
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	d := raw.Payload.(*Data)
	if len(d.Addresses) != 1 {
		t.Fatalf("addresses = %+v", d.Addresses)
	}
	a := d.Addresses[0]
	if a.ASN != "AS13335" || a.Org != "Cloudflare, Inc." || len(a.Hosts) != 2 {
		t.Errorf("address = %+v", a)
	}
	if a.Network == nil || a.Network.CIDR != "192.0.2.0/24" || a.Network.Registry != "ripe" {
		t.Fatalf("network = %+v", a.Network)
	}
	if len(a.Network.AbuseContacts) != 1 || a.Network.AbuseContacts[0] != "abuse@example.net" {
		t.Errorf("abuse contacts = %v", a.Network.AbuseContacts)
	}

	fs, err := m.Analyze(raw)
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, f := range fs {
		titles = append(titles, f.Title)
	}
	want := []string{
		"Hosted at 192.0.2.10 (Cloudflare, Inc.)",
		"Hosting provider: Cloudflare",
		"Subdomain discovered: mail.example.com",
		"2 other domains share 192.0.2.10",
	}
	if strings.Join(titles, "|") != strings.Join(want, "|") {
		t.Errorf("titles = %q, want %q", titles, want)
	}
}

func TestCollectResolutionFailure(t *testing.T) {
	srv := testServer(t)
	_, err := testModule(srv, fakeResolver{}).Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if !core.IsRetryable(err) {
		t.Errorf("Collect() error = %v, want retryable", err)
	}
}

func TestCollectPartial(t *testing.T) {
	srv := testServer(t)
	m := testModule(srv, fakeResolver{"example.com": {"192.0.2.10"}})
	m.RDAPURLs = []string{srv.URL + "/rir1/"}
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	// www failed to resolve and the only registry answered 404.
	if len(raw.Errors) != 2 {
		t.Errorf("errors = %v", raw.Errors)
	}
}

func TestParseReverse(t *testing.T) {
	if _, err := parseReverse("API count exceeded - Increase Quota with Membership"); !core.IsRetryable(err) {
		t.Errorf("quota error = %v", err)
	}
	got, err := parseReverse("No DNS A records found for 192.0.2.1")
	if err != nil || len(got) != 0 {
		t.Errorf("no records = %v, %v", got, err)
	}
	got, _ = parseReverse("B.example.org\na.example.org\nb.example.org\n")
	if strings.Join(got, ",") != "a.example.org,b.example.org" {
		t.Errorf("parseReverse() = %v", got)
	}
}

func TestSharedHostingSeverity(t *testing.T) {
	var names []string
	for i := 0; i < sharedHostingThreshold; i++ {
		names = append(names, fmt.Sprintf("site%d.net", i))
	}
	fs := analyze(&Data{Domain: "example.com", Addresses: []Address{{IP: "192.0.2.1", Hosts: []string{"example.com"}, CoHosted: names}}})
	last := fs[len(fs)-1]
	if last.Severity != core.SeverityLow {
		t.Errorf("shared hosting finding = %+v", last)
	}
}

func TestParseOrgField(t *testing.T) {
	asn, name := parseOrgField("AS15169 Google LLC")
	if asn != "AS15169" || name != "Google LLC" {
		t.Errorf("parseOrgField() = %q, %q", asn, name)
	}
	if asn, name := parseOrgField("Example Hosting"); asn != "" || name != "Example Hosting" {
		t.Errorf("parseOrgField() = %q, %q", asn, name)
	}
}
