package pastebin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
)

func TestCollectAndAnalyze(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/example.com", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"abc123","time":"2024-01-02","tags":"leak"},
			{"id":"def456","time":"2024-02-03","text":"see example.com for details"}]`)
	})
	mux.HandleFunc("/dump/abc123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":"bob@example.com:Summer2024!\nalice@example.com:hunter2"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := &Module{BaseURL: srv.URL}
	raw, err := m.Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	fs, err := m.Analyze(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(fs) != 2 {
		t.Fatalf("findings = %d", len(fs))
	}
	if fs[0].Severity != core.SeverityHigh || fs[0].Observable != "https://pastebin.com/abc123" {
		t.Errorf("credential paste = %+v", fs[0])
	}
	if fs[1].Severity != core.SeverityMedium {
		t.Errorf("plain paste severity = %s", fs[1].Severity)
	}
}

func TestCollectNoResults(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	raw, err := (&Module{BaseURL: srv.URL}).Collect(context.Background(), core.Target{Domain: "example.com"}, module.Env{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(raw.Payload.(*Data).Pastes) != 0 {
		t.Error("expected no pastes")
	}
}

func TestDecodeSearchShapes(t *testing.T) {
	for _, body := range []string{`[{"id":"a"}]`, `{"data":[{"id":"a"}]}`} {
		items, err := decodeSearch([]byte(body))
		if err != nil || len(items) != 1 || items[0].ID != "a" {
			t.Errorf("decodeSearch(%s) = %v, %v", body, items, err)
		}
	}
	if _, err := decodeSearch([]byte(`"oops"`)); !core.IsKind(err, core.KindParse) {
		t.Errorf("decodeSearch() error = %v, want parse error", err)
	}
}

func TestIndicators(t *testing.T) {
	if got := indicators("nothing to see", "example.com"); len(got) != 0 {
		t.Errorf("indicators() = %v", got)
	}
	if got := indicators("db_password = s3cr3tvalue", "example.com"); len(got) != 1 {
		t.Errorf("indicators() = %v", got)
	}
}
