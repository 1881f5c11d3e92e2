package whois

import (
	"context"
	"testing"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

const sampleText = `Domain Name: EXAMPLE.COM
Registrar: Example Registrar, LLC
Registrar URL: http://www.example-registrar.com
Registrar Abuse Contact Email: abuse@example-registrar.com
Creation Date: 1995-08-14T04:00:00Z
Registry Expiry Date: 2024-08-13T04:00:00Z
Domain Status: clientDeleteProhibited https://icann.org/epp#clientDeleteProhibited
Name Server: A.IANA-SERVERS.NET
Name Server: B.IANA-SERVERS.NET
DNSSEC: unsigned
Registrant Name: Jane Admin
Registrant Organization: Example Inc
Registrant Email: jane@example.com
`

func findingTitles(fs []core.Finding) map[string]core.Finding {
	out := map[string]core.Finding{}
	for _, f := range fs {
		out[f.Title] = f
	}
	return out
}

func TestFromText(t *testing.T) {
	rec := &Record{Domain: "example.com"}
	fromText(rec, sampleText)

	if rec.Registrar != "Example Registrar, LLC" {
		t.Errorf("Registrar = %q", rec.Registrar)
	}
	if rec.Expires.Format("2006-01-02") != "2024-08-13" {
		t.Errorf("Expires = %v", rec.Expires)
	}
	if len(rec.NameServers) != 2 || rec.NameServers[0] != "a.iana-servers.net" {
		t.Errorf("NameServers = %v", rec.NameServers)
	}
	if len(rec.Contacts) != 1 || rec.Contacts[0].Email != "jane@example.com" {
		t.Errorf("Contacts = %+v", rec.Contacts)
	}
	if len(rec.Status) != 1 {
		t.Errorf("Status = %v", rec.Status)
	}
}

func TestAnalyze(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{
		Domain:     "example.com",
		Registrar:  "Example Registrar, LLC",
		AbuseEmail: "abuse@example-registrar.com",
		Emails:     []string{"jane@example.com", "abuse@example-registrar.com", "contact@privacyguardian.org"},
		Created:    time.Date(1995, 8, 14, 0, 0, 0, 0, time.UTC),
		Expires:    time.Date(2024, 8, 13, 0, 0, 0, 0, time.UTC),
		Status:     []string{"clientDeleteProhibited"},
		DNSSEC:     "unsigned",
		Now:        now,
	}

	findings, err := New().Analyze(core.RawResult{Payload: rec})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	byTitle := findingTitles(findings)

	tests := []struct {
		title    string
		severity core.Severity
	}{
		{"Domain registered via Example Registrar, LLC", core.SeverityInfo},
		{"WHOIS privacy not enabled", core.SeverityMedium},
		{"E-mail address in WHOIS record: jane@example.com", core.SeverityInfo},
		{"Domain expires in less than 90 days", core.SeverityHigh},
		{"DNSSEC not enabled", core.SeverityLow},
		{"Registrar transfer lock not set", core.SeverityLow},
	}
	for _, tt := range tests {
		f, ok := byTitle[tt.title]
		if !ok {
			t.Errorf("missing finding %q", tt.title)
			continue
		}
		if f.Severity != tt.severity {
			t.Errorf("%q severity = %s, want %s", tt.title, f.Severity, tt.severity)
		}
	}
	if len(findings) != len(tests) {
		t.Errorf("got %d findings, want %d", len(findings), len(tests))
	}

	privacy := byTitle["WHOIS privacy not enabled"]
	exposed := privacy.Evidence["exposed_emails"].([]string)
	if len(exposed) != 1 || exposed[0] != "jane@example.com" {
		t.Errorf("exposed = %v, privacy and abuse addresses must be ignored", exposed)
	}
	if byTitle["E-mail address in WHOIS record: jane@example.com"].Observable != "jane@example.com" {
		t.Error("email finding needs an observable for corroboration")
	}
}

func TestAnalyzeExpired(t *testing.T) {
	rec := &Record{
		Domain:  "example.com",
		Expires: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:  []string{"clientTransferProhibited"},
		Now:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	findings, _ := New().Analyze(core.RawResult{Payload: rec})
	f, ok := findingTitles(findings)["Domain registration has expired"]
	if !ok || f.Severity != core.SeverityCritical {
		t.Errorf("expired domain not rated critical: %+v", findings)
	}
	if _, ok := findingTitles(findings)["Registrar transfer lock not set"]; ok {
		t.Error("transfer lock is present")
	}
}

func TestAnalyzeRejectsForeignPayload(t *testing.T) {
	_, err := New().Analyze(core.RawResult{Payload: "text"})
	if !core.IsKind(err, core.KindParse) {
		t.Errorf("Analyze() error = %v, want parse error", err)
	}
}

func TestCollectPropagatesQueryError(t *testing.T) {
	m := &Module{Query: func(ctx context.Context, domain string, timeout time.Duration) (string, error) {
		return "", core.TransportError("whois", "refused", 0, true, nil)
	}}
	_, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if !core.IsRetryable(err) {
		t.Errorf("Collect() error = %v, want retryable transport error", err)
	}
}

func TestCollectEmptyAnswer(t *testing.T) {
	m := &Module{Query: func(context.Context, string, time.Duration) (string, error) { return "  \n", nil }}
	_, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if !core.IsKind(err, core.KindParse) {
		t.Errorf("Collect() error = %v, want parse error", err)
	}
}
