package dorking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

const (
	ID          = "google_dorking"
	defaultBase = "https://www.googleapis.com/customsearch/v1"
)

// Kind groups dorks by what a hit means.
type Kind string

const (
	KindSensitive Kind = "sensitive_file"
	KindDocument  Kind = "document"
	KindLogin     Kind = "login_page"
	KindListing   Kind = "directory_listing"
)

// Dork is one search query template; %s is replaced by the domain.
type Dork struct {
	Kind  Kind   `json:"kind"`
	Query string `json:"query"`
}

var defaultDorks = []Dork{
	{KindSensitive, "site:%s (filetype:sql OR filetype:bak OR filetype:log OR filetype:env OR filetype:conf OR filetype:ini)"},
	{KindSensitive, "site:%s (filetype:xls OR filetype:xlsx OR filetype:csv)"},
	{KindDocument, "site:%s filetype:pdf"},
	{KindDocument, "site:%s (filetype:doc OR filetype:docx OR filetype:ppt OR filetype:pptx)"},
	{KindLogin, "site:%s (inurl:login OR inurl:admin OR inurl:signin OR intitle:login)"},
	{KindListing, `site:%s intitle:"index of"`},
}

// Hit is one search result.
type Hit struct {
	Kind    Kind   `json:"kind"`
	Query   string `json:"query"`
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	Mime    string `json:"mime,omitempty"`
}

// DocMeta is the document information dictionary of a PDF.
type DocMeta struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Producer string `json:"producer,omitempty"`
	Created  string `json:"created,omitempty"`
}

// Data is the payload of one run.
type Data struct {
	Domain    string    `json:"domain"`
	Hits      []Hit     `json:"hits"`
	Documents []DocMeta `json:"documents,omitempty"`
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Mime    string `json:"mime"`
	} `json:"items"`
}

// Module runs search engine dorks through the Custom Search JSON API.
type Module struct {
	BaseURL string
	// ReadPDF extracts document metadata; defaults to pdfcpu.
	ReadPDF func(body []byte) (DocMeta, error)
}

func New() *Module { return &Module{ReadPDF: readPDF} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "Google dorking",
		Source:      "google",
		Description: "Indexed sensitive files, documents and login pages via Google Custom Search",
		RequiresKey: true,
		KeyEnv:      "GOOGLE_API_KEY",
		Quota:       ratelimit.Quota{RequestsPerSecond: 1, Burst: 1},
	}
}

func (m *Module) base() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	return defaultBase
}

func dorks(env module.Env) []Dork {
	custom := env.Config.StringsOption("dorks", nil)
	if len(custom) == 0 {
		return defaultDorks
	}
	out := make([]Dork, 0, len(custom))
	for _, q := range custom {
		out = append(out, Dork{Kind: KindSensitive, Query: q})
	}
	return out
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	cx := env.Config.Option("cx", "")
	if cx == "" {
		return core.RawResult{}, core.ConfigError(ID, "the cx option (search engine ID) is required", nil)
	}
	client := env.HTTP()
	data := &Data{Domain: target.Domain}
	var errs []string
	seen := map[string]bool{}

	for _, d := range dorks(env) {
		q := d.Query
		if strings.Contains(q, "%s") {
			q = fmt.Sprintf(q, target.Domain)
		}
		u := fmt.Sprintf("%s?key=%s&cx=%s&num=10&q=%s", m.base(), url.QueryEscape(env.APIKey), url.QueryEscape(cx), url.QueryEscape(q))
		var resp searchResponse
		if err := client.GetJSON(ctx, u, nil, &resp); err != nil {
			if core.IsKind(err, core.KindAuth) || ctx.Err() != nil || core.IsRetryable(err) {
				return core.RawResult{}, err
			}
			errs = append(errs, fmt.Sprintf("%q: %v", q, err))
			continue
		}
		for _, it := range resp.Items {
			if seen[it.Link] {
				continue
			}
			seen[it.Link] = true
			data.Hits = append(data.Hits, Hit{Kind: d.Kind, Query: q, Title: it.Title, Link: it.Link, Snippet: it.Snippet, Mime: it.Mime})
		}
	}

	maxPDFs := 3
	if n, ok := env.Config.Options["max_pdfs"].(int); ok && n >= 0 {
		maxPDFs = n
	}
	read := m.ReadPDF
	if read == nil {
		read = readPDF
	}
	pdfClient := *client
	pdfClient.MaxBody = 20 << 20
	for _, h := range data.Hits {
		if maxPDFs == 0 {
			break
		}
		if !isPDF(h) {
			continue
		}
		maxPDFs--
		resp, err := pdfClient.Get(ctx, h.Link, nil)
		if err != nil {
			if ctx.Err() != nil {
				return core.RawResult{}, core.TimeoutError(ID, ctx.Err())
			}
			errs = append(errs, fmt.Sprintf("download %s: %v", h.Link, err))
			continue
		}
		meta, err := read(resp.Body)
		if err != nil {
			errs = append(errs, fmt.Sprintf("pdf %s: %v", h.Link, err))
			continue
		}
		meta.URL = h.Link
		data.Documents = append(data.Documents, meta)
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: data, Errors: errs}, nil
}

func isPDF(h Hit) bool {
	if h.Mime == "application/pdf" {
		return true
	}
	u, err := url.Parse(h.Link)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	d, ok := raw.Payload.(*Data)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	return analyze(d), nil
}
