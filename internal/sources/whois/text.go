package whois

import (
	"regexp"
	"strings"
	"time"
)

func findFirst(pattern, text string) string {
	re := regexp.MustCompile("(?im)" + pattern)
	if m := re.FindStringSubmatch(text); len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func findAll(pattern, text string) []string {
	re := regexp.MustCompile("(?im)" + pattern)
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) >= 2 {
			if v := strings.TrimSpace(m[1]); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// firstAny returns the first match over several patterns.
func firstAny(text string, patterns ...string) string {
	for _, p := range patterns {
		if v := findFirst(p, text); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func uniqueStrings(in []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
	}
	return out
}

func emptyIfNil(s string) string {
	if strings.TrimSpace(s) == "" {
		return "<unknown registrar>"
	}
	return s
}

func parseDateTry(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.0Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"2006.01.02 15:04:05",
		"2006/01/02 15:04:05",
		"Mon Jan 02 15:04:05 MST 2006",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func yearsBetween(a, b time.Time) int {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	years := b.Year() - a.Year()
	if b.YearDay() < a.YearDay() {
		years--
	}
	return years
}
