package ipintel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/source"
)

type rdapEntity struct {
	Roles      []string     `json:"roles"`
	VCardArray []any        `json:"vcardArray"`
	Entities   []rdapEntity `json:"entities"`
}

type rdapNetwork struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	StartAddress string `json:"startAddress"`
	EndAddress   string `json:"endAddress"`
	Country      string `json:"country"`
	Port43       string `json:"port43"`
	CIDRs        []struct {
		V4Prefix string `json:"v4prefix"`
		V6Prefix string `json:"v6prefix"`
		Length   int    `json:"length"`
	} `json:"cidr0_cidrs"`
	Entities []rdapEntity `json:"entities"`
}

// rdap asks each regional registry in turn. A 404 means the address
// belongs to another registry.
func (m *Module) rdap(ctx context.Context, c *source.Client, ip string) (*Network, error) {
	endpoints := m.RDAPURLs
	if len(endpoints) == 0 {
		endpoints = defaultRDAP
	}
	var lastErr error
	for _, base := range endpoints {
		var r rdapNetwork
		err := c.GetJSON(ctx, base+url.PathEscape(ip), nil, &r)
		if err == nil {
			return r.network(), nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no rdap endpoint")
	}
	return nil, lastErr
}

func (r rdapNetwork) network() *Network {
	n := &Network{
		Handle:   r.Handle,
		Name:     r.Name,
		Country:  r.Country,
		Registry: registryOf(r.Port43),
	}
	if r.StartAddress != "" && r.EndAddress != "" {
		n.Range = r.StartAddress + " - " + r.EndAddress
	}
	if len(r.CIDRs) > 0 {
		p := r.CIDRs[0].V4Prefix
		if p == "" {
			p = r.CIDRs[0].V6Prefix
		}
		if p != "" {
			n.CIDR = fmt.Sprintf("%s/%d", p, r.CIDRs[0].Length)
		}
	}
	n.AbuseContacts = abuseEmails(r.Entities)
	return n
}

// registryOf turns "whois.ripe.net" into "ripe".
func registryOf(port43 string) string {
	h := core.NormalizeHost(port43)
	h = strings.TrimPrefix(h, "whois.")
	if i := strings.IndexByte(h, '.'); i > 0 {
		return h[:i]
	}
	return h
}

// abuseEmails walks nested entities for the abuse role's vCard e-mail.
func abuseEmails(entities []rdapEntity) []string {
	var out []string
	seen := map[string]bool{}
	var walk func([]rdapEntity)
	walk = func(es []rdapEntity) {
		for _, e := range es {
			abuse := false
			for _, role := range e.Roles {
				if strings.EqualFold(role, "abuse") {
					abuse = true
				}
			}
			if abuse {
				for _, email := range vcardEmails(e.VCardArray) {
					if !seen[email] {
						seen[email] = true
						out = append(out, email)
					}
				}
			}
			walk(e.Entities)
		}
	}
	walk(entities)
	return out
}

// vcardEmails reads ["vcard", [["email", {}, "text", "abuse@x"], ...]].
func vcardEmails(v []any) []string {
	if len(v) < 2 {
		return nil
	}
	items, ok := v[1].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		prop, ok := item.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		if key, _ := prop[0].(string); key != "email" {
			continue
		}
		if s, ok := prop[3].(string); ok && s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
