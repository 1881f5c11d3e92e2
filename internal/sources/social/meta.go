package social

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// pageMeta reads the title and og:/twitter: meta tags with a tokenizer so
// large pages are never fully parsed.
func pageMeta(body []byte) map[string]string {
	meta := map[string]string{}
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return meta
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.Data {
			case "meta":
				var key, val string
				for _, a := range t.Attr {
					switch strings.ToLower(a.Key) {
					case "property", "name":
						key = strings.ToLower(strings.TrimSpace(a.Val))
					case "content":
						val = strings.TrimSpace(a.Val)
					}
				}
				if val != "" && (strings.HasPrefix(key, "og:") || strings.HasPrefix(key, "twitter:") || key == "description") {
					meta[key] = val
				}
			case "title":
				if _, ok := meta["title"]; !ok && z.Next() == html.TextToken {
					if title := strings.TrimSpace(string(z.Text())); title != "" {
						meta["title"] = title
					}
				}
			}
		}
	}
}
