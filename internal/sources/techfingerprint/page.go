package techfingerprint

import (
	"strings"

	"golang.org/x/net/html"
)

// Page is what the HTML parser extracts from the homepage.
type Page struct {
	Title     string            `json:"title,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Scripts   []string          `json:"scripts,omitempty"`
	Generator string            `json:"generator,omitempty"`
}

func parsePage(body []byte) Page {
	p := Page{Meta: map[string]string{}}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return p
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if p.Title == "" && n.FirstChild != nil {
					p.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				name, content := attr(n, "name"), attr(n, "content")
				if name == "" {
					name = attr(n, "property")
				}
				if name != "" {
					p.Meta[strings.ToLower(name)] = content
				}
			case "script":
				if src := attr(n, "src"); src != "" {
					p.Scripts = append(p.Scripts, src)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	p.Generator = p.Meta["generator"]
	return p
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
