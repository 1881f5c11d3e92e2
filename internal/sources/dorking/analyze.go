package dorking

import (
	"fmt"
	"path"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

func fileType(link string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.SplitN(link, "?", 2)[0])), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

func analyze(d *Data) []core.Finding {
	var out []core.Finding
	for _, h := range d.Hits {
		ev := map[string]any{"query": h.Query, "title": h.Title, "snippet": h.Snippet}
		switch h.Kind {
		case KindSensitive:
			ev["file_type"] = fileType(h.Link)
			out = append(out, core.Finding{
				Category:    core.CategoryDocument,
				Severity:    core.SeverityMedium,
				Confidence:  0.7,
				Title:       fmt.Sprintf("Sensitive %s file indexed by search engines", fileType(h.Link)),
				Description: h.Link + " is publicly indexed and may expose internal data.",
				Evidence:    ev,
				Observable:  h.Link,
				Recommendations: []string{
					"Remove the file from the web root and request removal from the search index.",
				},
			})
		case KindListing:
			out = append(out, core.Finding{
				Category:        core.CategoryURL,
				Severity:        core.SeverityMedium,
				Confidence:      0.6,
				Title:           "Directory listing indexed",
				Description:     h.Link + " appears to expose a browsable directory index.",
				Evidence:        ev,
				Observable:      h.Link,
				Recommendations: []string{"Disable directory listing on the web server."},
			})
		case KindLogin:
			out = append(out, core.Finding{
				Category:    core.CategoryURL,
				Severity:    core.SeverityLow,
				Confidence:  0.6,
				Title:       "Login or admin page indexed",
				Description: h.Link + " is a publicly indexed authentication or administration page.",
				Evidence:    ev,
				Observable:  h.Link,
				Recommendations: []string{
					"Restrict administrative interfaces to trusted networks and enforce MFA.",
				},
			})
		default:
			ev["file_type"] = fileType(h.Link)
			out = append(out, core.Finding{
				Category:    core.CategoryDocument,
				Severity:    core.SeverityInfo,
				Confidence:  0.8,
				Title:       "Public document: " + firstNonEmpty(h.Title, path.Base(h.Link)),
				Description: h.Link + " is publicly indexed.",
				Evidence:    ev,
				Observable:  h.Link,
			})
		}
	}

	for _, doc := range d.Documents {
		if doc.Author == "" && doc.Creator == "" {
			continue
		}
		out = append(out, core.Finding{
			Category:    core.CategoryDocument,
			Severity:    core.SeverityLow,
			Confidence:  0.8,
			Title:       "Document metadata reveals author or software",
			Description: fmt.Sprintf("%s names author %q and was created with %q.", doc.URL, doc.Author, firstNonEmpty(doc.Creator, doc.Producer)),
			Evidence: map[string]any{
				"author": doc.Author, "creator": doc.Creator, "producer": doc.Producer,
				"title": doc.Title, "created": doc.Created,
			},
			Observable: doc.URL,
			Recommendations: []string{
				"Strip metadata from documents before publishing them.",
			},
		})
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
