package dorking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shii9/PassiveNio/internal/config"
	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if q.Get("cx") != "engine" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case strings.Contains(q.Get("q"), "filetype:sql"):
			fmt.Fprint(w, `{"items":[{"title":"dump","link":"https://example.com/backup/db.sql"}]}`)
		case strings.Contains(q.Get("q"), "filetype:pdf"):
			fmt.Fprintf(w, `{"items":[{"title":"Annual report","link":"%s/files/report.pdf","mime":"application/pdf"},
				{"title":"Broken","link":"%s/files/broken.pdf","mime":"application/pdf"}]}`, srv.URL, srv.URL)
		case strings.Contains(q.Get("q"), "inurl:login"):
			fmt.Fprint(w, `{"items":[{"title":"Login","link":"https://example.com/admin/login"}]}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 "+r.URL.Path)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fakePDF(body []byte) (DocMeta, error) {
	if strings.Contains(string(body), "broken") {
		return DocMeta{}, errors.New("corrupt xref")
	}
	return DocMeta{Author: "j.doe", Creator: "Microsoft Word"}, nil
}

func env(cx string) module.Env {
	return module.Env{APIKey: "k", Config: config.ModuleConfig{Options: map[string]any{"cx": cx}}}
}

func TestCollectAndAnalyze(t *testing.T) {
	srv := newServer(t)
	m := &Module{BaseURL: srv.URL + "/search", ReadPDF: fakePDF}
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, env("engine"))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	d := raw.Payload.(*Data)
	if len(d.Hits) != 4 {
		t.Fatalf("hits = %+v", d.Hits)
	}
	if len(d.Documents) != 1 || d.Documents[0].Author != "j.doe" {
		t.Errorf("documents = %+v", d.Documents)
	}
	if len(raw.Errors) != 1 || !strings.Contains(raw.Errors[0], "broken.pdf") {
		t.Errorf("Errors = %v", raw.Errors)
	}

	fs, _ := m.Analyze(raw)
	sev := map[string]core.Severity{}
	for _, f := range fs {
		sev[f.Title] = f.Severity
	}
	if sev["Sensitive sql file indexed by search engines"] != core.SeverityMedium {
		t.Errorf("sensitive file severity = %q", sev["Sensitive sql file indexed by search engines"])
	}
	if sev["Login or admin page indexed"] != core.SeverityLow {
		t.Errorf("login page severity = %q", sev["Login or admin page indexed"])
	}
	if sev["Document metadata reveals author or software"] != core.SeverityLow {
		t.Errorf("metadata severity = %q", sev["Document metadata reveals author or software"])
	}
}

func TestCollectRequiresCX(t *testing.T) {
	_, err := New().Collect(context.Background(), core.Target{Domain: "example.com"}, env(""))
	if !core.IsKind(err, core.KindConfig) {
		t.Errorf("Collect() error = %v, want config error", err)
	}
}

func TestCollectRejectedKey(t *testing.T) {
	m := &Module{BaseURL: newServer(t).URL + "/search", ReadPDF: fakePDF}
	e := env("engine")
	e.APIKey = "bad"
	_, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, e)
	if !core.IsKind(err, core.KindAuth) {
		t.Errorf("Collect() error = %v, want auth error", err)
	}
}

func TestReadPDFRejectsGarbage(t *testing.T) {
	if _, err := readPDF([]byte("not a pdf")); !core.IsKind(err, core.KindParse) {
		t.Errorf("readPDF() error = %v, want parse error", err)
	}
}

func TestFileType(t *testing.T) {
	if got := fileType("https://example.com/a/b.SQL?x=1"); got != "sql" {
		t.Errorf("fileType() = %q", got)
	}
}
