package whois

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	whois "github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

const (
	ID            = "whois"
	expiryWarning = 90 * 24 * time.Hour
	queryTimeout  = 20 * time.Second
)

// Contact is one WHOIS contact block.
type Contact struct {
	Role         string `json:"role"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
	Country      string `json:"country,omitempty"`
}

// Record is the collected WHOIS data of the target.
type Record struct {
	Domain       string    `json:"domain"`
	Registrar    string    `json:"registrar,omitempty"`
	RegistrarURL string    `json:"registrar_url,omitempty"`
	AbuseEmail   string    `json:"abuse_email,omitempty"`
	Contacts     []Contact `json:"contacts,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	Created      time.Time `json:"created,omitempty"`
	Updated      time.Time `json:"updated,omitempty"`
	Expires      time.Time `json:"expires,omitempty"`
	Status       []string  `json:"status,omitempty"`
	NameServers  []string  `json:"name_servers,omitempty"`
	DNSSEC       string    `json:"dnssec,omitempty"`
	// Parsed is false when the structured parser gave up and fields come
	// from pattern matching on the raw text.
	Parsed bool `json:"parsed"`
	// Now is the reference time for expiry checks.
	Now time.Time `json:"-"`
}

// Querier fetches raw WHOIS text.
type Querier func(ctx context.Context, domain string, timeout time.Duration) (string, error)

// Module reads public registration data.
type Module struct {
	Query Querier
}

func New() *Module { return &Module{Query: query} }

func (m *Module) Descriptor() module.Descriptor {
	return module.Descriptor{
		ID:          ID,
		Name:        "WHOIS",
		Source:      "whois",
		Description: "Public registration data: registrar, contacts, lifecycle dates, DNSSEC",
		Quota:       ratelimit.Quota{RequestsPerSecond: 0.5, Burst: 1},
	}
}

// query runs the blocking WHOIS client in its own goroutine so the caller
// can give up on cancellation.
func query(ctx context.Context, domain string, timeout time.Duration) (string, error) {
	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		text, err := whois.NewClient().SetTimeout(timeout).Whois(domain)
		ch <- answer{text, err}
	}()
	select {
	case <-ctx.Done():
		return "", core.TimeoutError("whois "+domain, ctx.Err())
	case a := <-ch:
		if a.err != nil {
			return "", core.TransportError("whois "+domain, "query failed", 0, true, a.err)
		}
		return a.text, nil
	}
}

func (m *Module) Collect(ctx context.Context, target core.Target, env module.Env) (core.RawResult, error) {
	timeout := queryTimeout
	if env.Config.Timeout > 0 && env.Config.Timeout < timeout {
		timeout = env.Config.Timeout
	}
	if err := env.Limiter.Wait(ctx); err != nil {
		return core.RawResult{}, core.TimeoutError(ID, err)
	}
	text, err := m.Query(ctx, target.Domain, timeout)
	if err != nil {
		return core.RawResult{}, err
	}
	rec, err := Parse(target.Domain, text)
	if err != nil {
		return core.RawResult{}, err
	}
	return core.RawResult{ModuleID: ID, CapturedAt: time.Now().UTC(), Payload: rec}, nil
}

// Parse builds a Record from raw WHOIS text, preferring the structured
// parser and falling back to field patterns.
func Parse(domain, raw string) (*Record, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, core.ParseError("whois "+domain, "empty WHOIS answer", nil)
	}

	rec := &Record{Domain: domain}
	info, err := whoisparser.Parse(text)
	switch {
	case errors.Is(err, whoisparser.ErrNotFoundDomain):
		return nil, core.ParseError("whois "+domain, "domain not found in WHOIS", err)
	case err == nil:
		fromParsed(rec, info)
	default:
		fromText(rec, text)
	}

	// Both paths miss some free-form fields; the raw text fills the gaps.
	if rec.AbuseEmail == "" {
		rec.AbuseEmail = firstAny(text,
			`Registrar Abuse Contact Email:\s*(.+)`,
			`Registrar Abuse Email:\s*(.+)`,
		)
	}
	if rec.DNSSEC == "" {
		rec.DNSSEC = strings.ToLower(firstAny(text, `DNSSEC:\s*(.+)`))
	}
	rec.Emails = uniqueStrings(append(rec.Emails, findAll(`([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`, text)...))
	return rec, nil
}

func fromParsed(rec *Record, info whoisparser.WhoisInfo) {
	rec.Parsed = true
	if d := info.Domain; d != nil {
		rec.Status = uniqueStrings(d.Status)
		rec.NameServers = uniqueStrings(lowerAll(d.NameServers))
		if d.DNSSec {
			rec.DNSSEC = "signed"
		}
		if d.CreatedDateInTime != nil {
			rec.Created = d.CreatedDateInTime.UTC()
		}
		if d.UpdatedDateInTime != nil {
			rec.Updated = d.UpdatedDateInTime.UTC()
		}
		if d.ExpirationDateInTime != nil {
			rec.Expires = d.ExpirationDateInTime.UTC()
		}
	}
	if r := info.Registrar; r != nil {
		rec.Registrar = firstNonEmpty(r.Name, r.Organization)
		rec.RegistrarURL = r.ReferralURL
	}
	for _, c := range []struct {
		role    string
		contact *whoisparser.Contact
	}{
		{"registrant", info.Registrant},
		{"administrative", info.Administrative},
		{"technical", info.Technical},
		{"billing", info.Billing},
	} {
		if c.contact == nil {
			continue
		}
		rec.Contacts = append(rec.Contacts, Contact{
			Role:         c.role,
			Name:         c.contact.Name,
			Organization: c.contact.Organization,
			Email:        c.contact.Email,
			Country:      c.contact.Country,
		})
		if c.contact.Email != "" {
			rec.Emails = append(rec.Emails, c.contact.Email)
		}
	}
}

func fromText(rec *Record, text string) {
	rec.Registrar = firstAny(text,
		`Registrar:\s*(.+)`,
		`Registrar Name:\s*(.+)`,
		`Sponsoring Registrar:\s*(.+)`,
	)
	rec.RegistrarURL = firstAny(text, `Registrar URL:\s*(.+)`, `Registrar Url:\s*(.+)`)

	registrant := Contact{
		Role:         "registrant",
		Name:         firstAny(text, `Registrant Name:\s*(.+)`, `Registrant Contact Name:\s*(.+)`),
		Organization: firstAny(text, `Registrant Organization:\s*(.+)`, `Registrant Org:\s*(.+)`),
		Email:        firstAny(text, `Registrant Email:\s*(.+)`, `Registrant E-mail:\s*(.+)`),
		Country:      firstAny(text, `Registrant Country:\s*(.+)`),
	}
	if registrant != (Contact{Role: "registrant"}) {
		rec.Contacts = append(rec.Contacts, registrant)
	}

	if t, ok := parseDateTry(firstAny(text,
		`Creation Date:\s*(.+)`,
		`Created On:\s*(.+)`,
		`Registered On:\s*(.+)`,
	)); ok {
		rec.Created = t
	}
	if t, ok := parseDateTry(firstAny(text,
		`Updated Date:\s*(.+)`,
		`Last Updated On:\s*(.+)`,
	)); ok {
		rec.Updated = t
	}
	if t, ok := parseDateTry(firstAny(text,
		`Registry Expiry Date:\s*(.+)`,
		`Registrar Registration Expiration Date:\s*(.+)`,
		`Expiration Date:\s*(.+)`,
		`Expires On:\s*(.+)`,
	)); ok {
		rec.Expires = t
	}

	rec.Status = uniqueStrings(findAll(`Domain Status:\s*([^\s]+)`, text))
	ns := findAll(`Name Server:\s*(.+)`, text)
	if len(ns) == 0 {
		ns = findAll(`Nameserver:\s*(.+)`, text)
	}
	rec.NameServers = uniqueStrings(lowerAll(ns))
}

func (m *Module) Analyze(raw core.RawResult) ([]core.Finding, error) {
	rec, ok := raw.Payload.(*Record)
	if !ok {
		return nil, core.ParseError(ID, fmt.Sprintf("unexpected payload %T", raw.Payload), nil)
	}
	now := rec.Now
	if now.IsZero() {
		now = raw.CapturedAt
	}
	if now.IsZero() {
		now = time.Now()
	}
	return analyze(rec, now), nil
}
