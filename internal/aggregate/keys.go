package aggregate

import (
	"net"
	"net/url"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

// KeyPolicyVersion changes whenever a key function changes meaning.
const KeyPolicyVersion = "v1"

// KeyFunc derives the canonical dedup key of an observable. An empty key
// means the finding is never merged.
type KeyFunc func(observable string) string

var keyPolicy = map[core.Category]KeyFunc{
	core.CategorySubdomain:  hostKey,
	core.CategoryHost:       hostKey,
	core.CategoryEmail:      emailKey,
	core.CategoryService:    serviceKey,
	core.CategoryURL:        urlKey,
	core.CategoryCodeLeak:   urlKey,
	core.CategoryDocument:   urlKey,
	core.CategoryPaste:      urlKey,
	core.CategoryBreach:     lowerKey,
	core.CategorySocial:     socialKey,
	core.CategoryTechnology: lowerKey,
}

// Key returns the canonical key of f. Categories without a policy and
// findings without an observable are keyed by their ID.
func Key(f core.Finding) string {
	fn, ok := keyPolicy[f.Category]
	if !ok || strings.TrimSpace(f.Observable) == "" {
		return "id:" + f.ID
	}
	k := fn(f.Observable)
	if k == "" {
		return "id:" + f.ID
	}
	return string(f.Category) + ":" + k
}

func hostKey(s string) string { return core.NormalizeHost(s) }

func lowerKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func emailKey(s string) string {
	e := strings.ToLower(strings.TrimSpace(s))
	e = strings.TrimPrefix(e, "mailto:")
	e = strings.TrimSuffix(strings.TrimPrefix(e, "<"), ">")
	if i := strings.IndexByte(e, '?'); i >= 0 {
		e = e[:i]
	}
	return strings.TrimSpace(e)
}

func serviceKey(s string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return core.NormalizeHost(s)
	}
	return net.JoinHostPort(core.NormalizeHost(host), port)
}

func urlKey(s string) string {
	raw := strings.TrimSpace(s)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

func socialKey(s string) string {
	platform, handle, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return lowerKey(s)
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	return strings.ToLower(strings.TrimSpace(platform)) + ":" + strings.ToLower(handle)
}
