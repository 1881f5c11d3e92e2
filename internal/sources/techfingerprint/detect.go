package techfingerprint

import (
	"net/http"
	"regexp"
	"strings"
)

// Technology is one detected product, with a version when disclosed.
type Technology struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Category string `json:"category"`
	Evidence string `json:"evidence"`
}

var versionRe = regexp.MustCompile(`(\d+(?:\.\d+)+)`)

// productVersion splits "nginx/1.18.0 (Ubuntu)" into name and version.
func productVersion(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	first := strings.Fields(s)[0]
	name, ver, _ := strings.Cut(first, "/")
	if ver == "" {
		if m := versionRe.FindString(s); m != "" {
			ver = m
			name = strings.TrimSpace(strings.TrimSuffix(strings.Split(s, m)[0], " "))
		}
	}
	return name, versionRe.FindString(ver)
}

var bodyPatterns = []struct {
	name, category string
	re             *regexp.Regexp
}{
	{"WordPress", "cms", regexp.MustCompile(`(?i)wp-content|wp-includes`)},
	{"Drupal", "cms", regexp.MustCompile(`(?i)drupal-settings-json|sites/default/files`)},
	{"Joomla", "cms", regexp.MustCompile(`(?i)/media/jui/|joomla`)},
	{"Shopify", "ecommerce", regexp.MustCompile(`(?i)cdn\.shopify\.com`)},
	{"Django", "framework", regexp.MustCompile(`csrfmiddlewaretoken`)},
	{"Next.js", "framework", regexp.MustCompile(`__NEXT_DATA__|/_next/static`)},
	{"Nuxt.js", "framework", regexp.MustCompile(`__NUXT__|/_nuxt/`)},
	{"React", "framework", regexp.MustCompile(`(?i)data-reactroot|react-dom`)},
	{"Angular", "framework", regexp.MustCompile(`ng-version=|ng-app`)},
	{"jQuery", "library", regexp.MustCompile(`(?i)jquery(?:[.-]\d[\d.]*)?(?:\.min)?\.js`)},
	{"Google Analytics", "analytics", regexp.MustCompile(`googletagmanager\.com|google-analytics\.com`)},
}

var headerMarkers = []struct {
	header, contains, name, category string
}{
	{"Cf-Ray", "", "Cloudflare", "cdn"},
	{"X-Amz-Cf-Id", "", "Amazon CloudFront", "cdn"},
	{"X-Served-By", "cache-", "Fastly", "cdn"},
	{"X-Akamai-Transformed", "", "Akamai", "cdn"},
	{"X-Vercel-Id", "", "Vercel", "hosting"},
	{"X-Github-Request-Id", "", "GitHub Pages", "hosting"},
	{"X-Drupal-Cache", "", "Drupal", "cms"},
	{"X-Aspnet-Version", "", "ASP.NET", "framework"},
}

var cookieMarkers = map[string]string{
	"PHPSESSID":             "PHP",
	"JSESSIONID":            "Java Servlet",
	"ASP.NET_SessionId":     "ASP.NET",
	"laravel_session":       "Laravel",
	"csrftoken":             "Django",
	"_shopify_y":            "Shopify",
	"wordpress_test_cookie": "WordPress",
}

func detect(h http.Header, cookies []Cookie, page Page, body string) []Technology {
	var out []Technology
	seen := map[string]int{}
	add := func(t Technology) {
		key := strings.ToLower(t.Name)
		if i, ok := seen[key]; ok {
			if out[i].Version == "" && t.Version != "" {
				out[i].Version = t.Version
			}
			return
		}
		seen[key] = len(out)
		out = append(out, t)
	}

	if name, ver := productVersion(h.Get("Server")); name != "" {
		add(Technology{Name: name, Version: ver, Category: "web-server", Evidence: "Server: " + h.Get("Server")})
	}
	for _, pb := range strings.Split(h.Get("X-Powered-By"), ",") {
		if name, ver := productVersion(pb); name != "" {
			add(Technology{Name: name, Version: ver, Category: "platform", Evidence: "X-Powered-By: " + strings.TrimSpace(pb)})
		}
	}
	if v := h.Get("X-AspNet-Version"); v != "" {
		add(Technology{Name: "ASP.NET", Version: versionRe.FindString(v), Category: "framework", Evidence: "X-AspNet-Version: " + v})
	}
	for _, m := range headerMarkers {
		v := h.Get(m.header)
		if v == "" || (m.contains != "" && !strings.Contains(v, m.contains)) {
			continue
		}
		add(Technology{Name: m.name, Category: m.category, Evidence: m.header + " header"})
	}
	if page.Generator != "" {
		name, ver := productVersion(page.Generator)
		add(Technology{Name: name, Version: ver, Category: "cms", Evidence: "meta generator: " + page.Generator})
	}
	for _, c := range cookies {
		if name, ok := cookieMarkers[c.Name]; ok {
			add(Technology{Name: name, Category: "platform", Evidence: "cookie " + c.Name})
		}
	}
	text := body + "\n" + strings.Join(page.Scripts, "\n")
	for _, p := range bodyPatterns {
		if p.re.MatchString(text) {
			add(Technology{Name: p.name, Category: p.category, Evidence: "page markup"})
		}
	}
	return out
}
