package core

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Example.COM", "example.com"},
		{"https://www.example.com/path?q=1", "www.example.com"},
		{"example.com.", "example.com"},
		{"*.example.com", "example.com"},
		{"mail.example.com:25", "mail.example.com"},
		{"user@host.example.com", "host.example.com"},
		{"  api.example.com  ", "api.example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeHost(tt.input); got != tt.expected {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNewTarget(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		want    string
		wantErr bool
	}{
		{name: "plain", domain: "example.com", want: "example.com"},
		{name: "url", domain: "HTTPS://Example.com/", want: "example.com"},
		{name: "empty", domain: " ", wantErr: true},
		{name: "ip", domain: "10.0.0.1", wantErr: true},
		{name: "no dot", domain: "localhost", wantErr: true},
		{name: "bad chars", domain: "exa_mple.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTarget(tt.domain, "")
			if tt.wantErr {
				if !IsKind(err, KindConfig) {
					t.Fatalf("NewTarget(%q) error = %v, want config error", tt.domain, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTarget(%q) error = %v", tt.domain, err)
			}
			if got.Domain != tt.want {
				t.Errorf("Domain = %q, want %q", got.Domain, tt.want)
			}
		})
	}
}

func TestTargetOwns(t *testing.T) {
	target := Target{Domain: "example.com"}
	if !target.Owns("WWW.example.com.") {
		t.Error("expected subdomain to be owned")
	}
	if !target.Owns("example.com") {
		t.Error("expected apex to be owned")
	}
	if target.Owns("badexample.com") {
		t.Error("suffix match without a dot must not count")
	}
	if target.Slug() != "example" {
		t.Errorf("Slug() = %q", target.Slug())
	}
}

func TestSeverityRank(t *testing.T) {
	prev := 5
	for _, s := range Severities() {
		if s.Rank() >= prev {
			t.Errorf("Severities() not ordered at %s", s)
		}
		prev = s.Rank()
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Severity("urgent").Valid() {
		t.Error("unknown severity must be invalid")
	}
}

func TestStableIDDeterministic(t *testing.T) {
	f := Finding{
		ModuleID: "dns",
		Category: CategoryDNS,
		Title:    "SPF record missing",
		Evidence: map[string]any{"b": 1, "a": "x"},
	}
	a := StableID(f)
	f.FirstSeen = time.Now()
	if b := StableID(f); a != b {
		t.Errorf("StableID changed with timestamp: %s vs %s", a, b)
	}
	f.Title = "other"
	if StableID(f) == a {
		t.Error("StableID must change with content")
	}
}

func TestCloneDoesNotShare(t *testing.T) {
	f := Finding{Modules: []string{"a"}, Evidence: map[string]any{"k": "v"}}
	c := f.Clone()
	c.Modules[0] = "b"
	c.Evidence["k"] = "w"
	if f.Modules[0] != "a" || f.Evidence["k"] != "v" {
		t.Error("Clone shares state with the original")
	}
}

func TestErrorClassification(t *testing.T) {
	base := RateLimitedError("shodan", 429, 3*time.Second)
	wrapped := errors.Join(errors.New("outer"), base)

	if !IsRetryable(wrapped) {
		t.Error("rate limited error should be retryable")
	}
	if got := RetryAfter(wrapped); got != 3*time.Second {
		t.Errorf("RetryAfter() = %v, want 3s", got)
	}
	if !IsKind(AuthError("github", "bad token", 401), KindAuth) {
		t.Error("expected auth kind")
	}
	if IsRetryable(TransportError("http", "bad request", 400, false, nil)) {
		t.Error("4xx transport error must not be retryable")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors have unknown kind")
	}
}
