package shodan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/dns/domain/example.com", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"domain":"example.com","subdomains":["www","vpn",""],
			"data":[{"subdomain":"www","type":"A","value":"192.0.2.1"},
			        {"subdomain":"vpn","type":"A","value":"192.0.2.2"},
			        {"subdomain":"","type":"MX","value":"mail.example.com"}]}`)
	})
	mux.HandleFunc("/shodan/host/192.0.2.1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip_str":"192.0.2.1","org":"Example Hosting","ports":[443,3389],
			"data":[{"port":443,"transport":"tcp","product":"nginx"},
			        {"port":3389,"transport":"tcp","vulns":{"CVE-2019-0708":{"cvss":9.8,"summary":"BlueKeep"}}}]}`)
	})
	mux.HandleFunc("/shodan/host/192.0.2.2", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollectAndAnalyze(t *testing.T) {
	m := &Module{BaseURL: newServer(t).URL}
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{APIKey: "k"})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	d := raw.Payload.(*Data)
	if len(d.Subdomains) != 2 || len(d.IPs) != 2 || len(d.Hosts) != 1 {
		t.Fatalf("data = %+v", d)
	}

	fs, err := m.Analyze(raw)
	if err != nil {
		t.Fatal(err)
	}
	bySev := map[core.Severity]int{}
	for _, f := range fs {
		bySev[f.Severity]++
	}
	// 2 subdomains + https service info; RDP medium; BlueKeep critical
	if bySev[core.SeverityInfo] != 3 || bySev[core.SeverityMedium] != 1 || bySev[core.SeverityCritical] != 1 {
		t.Errorf("severities = %v", bySev)
	}
	var cve *core.Finding
	for i, f := range fs {
		if f.Category == core.CategoryVuln {
			cve = &fs[i]
		}
		if f.Category == core.CategoryService && f.Observable != "192.0.2.1:443" && f.Observable != "192.0.2.1:3389" {
			t.Errorf("service observable = %q", f.Observable)
		}
	}
	if cve == nil {
		t.Fatal("no vulnerability finding for CVE-2019-0708")
	}
	if cve.Observable != "CVE-2019-0708@192.0.2.1:3389" || cve.Evidence["cvss"] != 9.8 {
		t.Errorf("vulnerability finding = %+v", *cve)
	}
}

func TestCollectRejectedKey(t *testing.T) {
	m := &Module{BaseURL: newServer(t).URL}
	_, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{APIKey: "wrong"})
	if !core.IsKind(err, core.KindAuth) {
		t.Errorf("Collect() error = %v, want auth error", err)
	}
}

func TestCVESeverity(t *testing.T) {
	if cveSeverity(9.8) != core.SeverityCritical || cveSeverity(7.5) != core.SeverityHigh || cveSeverity(0) != core.SeverityHigh {
		t.Error("unexpected CVE severity mapping")
	}
}
