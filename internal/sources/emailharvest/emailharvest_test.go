package emailharvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

func TestExtract(t *testing.T) {
	body := []byte(`<html><body>
<a href="mailto:Jane.Doe@Example.com?subject=hi">Jane</a>
<p>Write to info@example.com or sales [at] example [dot] com.</p>
<img src="logo@2x.png">
<script>var x = "tracker@cdn.example.net";</script>
</body></html>`)
	got := extract(body)
	want := []string{"info@example.com", "jane.doe@example.com", "sales@example.com"}
	if len(got) != len(want) {
		t.Fatalf("extract() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extract()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsRole(t *testing.T) {
	tests := map[string]bool{
		"info@example.com":         true,
		"security+pgp@example.com": true,
		"jane.doe@example.com":     false,
	}
	for in, want := range tests {
		if got := isRole(in); got != want {
			t.Errorf("isRole(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCollect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<html><body><a href="/kontakt-seite">Kontakt</a> info@example.com</body></html>`))
	})
	mux.HandleFunc("/kontakt-seite", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="mailto:john.smith@example.com">John</a> partner@other.org`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>info@example.com</p>`))
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := &Module{BaseURL: srv.URL}
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	h := raw.Payload.(*Harvest)
	if len(h.Addresses) != 2 {
		t.Fatalf("addresses = %+v", h.Addresses)
	}
	if h.Addresses[0].Email != "info@example.com" || len(h.Addresses[0].Pages) != 2 {
		t.Errorf("info address = %+v", h.Addresses[0])
	}
	if h.External != 1 {
		t.Errorf("External = %d, want 1", h.External)
	}
	if len(raw.Errors) != 1 {
		t.Errorf("Errors = %v, want only the /team failure", raw.Errors)
	}

	fs, err := m.Analyze(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(fs) != 3 {
		t.Fatalf("findings = %d, want 2 addresses and 1 personal summary", len(fs))
	}
	if fs[1].Observable != "john.smith@example.com" || fs[1].Evidence["kind"] != "personal" {
		t.Errorf("personal finding = %+v", fs[1])
	}
	if fs[2].Severity != core.SeverityLow {
		t.Errorf("summary severity = %s", fs[2].Severity)
	}
}

func TestCollectHomepageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := (&Module{BaseURL: srv.URL}).Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if !core.IsRetryable(err) {
		t.Errorf("Collect() error = %v, want retryable", err)
	}
}
