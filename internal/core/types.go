package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Severity of a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists all levels from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// Rank orders severities; invalid values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Category groups findings for deduplication and reporting.
type Category string

const (
	CategorySubdomain  Category = "subdomain"
	CategoryHost       Category = "host"
	CategoryEmail      Category = "email"
	CategoryService    Category = "service"
	CategoryURL        Category = "url"
	CategoryCodeLeak   Category = "code_leak"
	CategoryDocument   Category = "document"
	CategoryPaste      Category = "paste"
	CategoryBreach     Category = "breach"
	CategorySocial     Category = "social"
	CategoryTechnology Category = "technology"
	CategoryDNS        Category = "dns"
	CategoryWhois      Category = "whois"
	CategoryHTTP       Category = "http"
	CategoryVuln       Category = "vulnerability"
)

// Outcome of one module attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeTimeout Outcome = "timeout"
)

// Target is the domain under analysis.
type Target struct {
	Domain       string
	Organization string
}

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// NewTarget normalizes and validates a domain.
func NewTarget(domain, organization string) (Target, error) {
	d := NormalizeHost(domain)
	if d == "" {
		return Target{}, ConfigError("target", "no target domain given", nil)
	}
	if net.ParseIP(d) != nil {
		return Target{}, ConfigError("target", fmt.Sprintf("%q is an IP address, a domain is required", d), nil)
	}
	if !hostnameRe.MatchString(d) {
		return Target{}, ConfigError("target", fmt.Sprintf("%q is not a valid domain", domain), nil)
	}
	return Target{Domain: d, Organization: strings.TrimSpace(organization)}, nil
}

// Slug is the first label of the domain ("example" for "example.com").
func (t Target) Slug() string {
	if i := strings.IndexByte(t.Domain, '.'); i > 0 {
		return t.Domain[:i]
	}
	return t.Domain
}

// Owns reports whether host is the target domain or one of its subdomains.
func (t Target) Owns(host string) bool {
	h := NormalizeHost(host)
	return h == t.Domain || strings.HasSuffix(h, "."+t.Domain)
}

// NormalizeHost lower-cases a hostname and strips scheme, path, port,
// wildcard label and trailing dot.
func NormalizeHost(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndexByte(h, '@'); i >= 0 {
		h = h[i+1:]
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimPrefix(h, "*.")
	return strings.TrimSuffix(h, ".")
}

// RawResult is what Collect hands to Analyze.
type RawResult struct {
	ModuleID   string
	CapturedAt time.Time
	Payload    any
	// Errors lists tolerated sub-source failures; non-empty means partial.
	Errors []string
}

// Finding is one normalized observation.
type Finding struct {
	ID              string         `json:"id"`
	ModuleID        string         `json:"module"`
	Modules         []string       `json:"corroborated_by,omitempty"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Confidence      float64        `json:"confidence"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Evidence        map[string]any `json:"evidence"`
	Observable      string         `json:"observable,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	FirstSeen       time.Time      `json:"first_seen"`

	// Seq is the position in the producing module's sequence.
	Seq int `json:"-"`
}

// Corroboration is the number of distinct modules reporting the finding.
func (f Finding) Corroboration() int {
	if len(f.Modules) == 0 {
		return 1
	}
	return len(f.Modules)
}

// Clone returns a copy whose slices and evidence map are not shared.
func (f Finding) Clone() Finding {
	c := f
	c.Modules = append([]string(nil), f.Modules...)
	c.Recommendations = append([]string(nil), f.Recommendations...)
	if f.Evidence != nil {
		c.Evidence = make(map[string]any, len(f.Evidence))
		for k, v := range f.Evidence {
			c.Evidence[k] = v
		}
	}
	return c
}

// StableID derives a deterministic identifier from a finding's content.
func StableID(f Finding) string {
	ev, _ := json.Marshal(f.Evidence)
	return hashID(f.ModuleID, string(f.Category), f.Observable, f.Title, f.Description, string(ev))
}

// KeyID derives the identifier of a merged finding from its dedup key.
func KeyID(category Category, key string) string {
	return hashID("key", string(category), key)
}

func hashID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "f-" + hex.EncodeToString(h[:8])
}

// ModuleStatus records the outcome of one attempted module.
type ModuleStatus struct {
	ModuleID string
	Outcome  Outcome
	Duration time.Duration
	// Error is set when the module ran into a failure; credential skips
	// leave it empty and explain themselves in Reason.
	Error    string
	Reason   string
	Attempts int
	Findings int
}
