package shodan

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

var riskyPorts = map[int]string{
	21:    "FTP",
	23:    "Telnet",
	139:   "NetBIOS",
	161:   "SNMP",
	445:   "SMB",
	1433:  "MSSQL",
	2375:  "Docker API",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	9200:  "Elasticsearch",
	11211: "Memcached",
	27017: "MongoDB",
}

func cveSeverity(cvss float64) core.Severity {
	if cvss >= 9 {
		return core.SeverityCritical
	}
	return core.SeverityHigh
}

func analyze(d *Data) []core.Finding {
	var out []core.Finding

	for _, s := range d.Subdomains {
		if s == d.Domain {
			continue
		}
		out = append(out, core.Finding{
			Category:    core.CategorySubdomain,
			Severity:    core.SeverityInfo,
			Confidence:  0.75,
			Title:       "Subdomain discovered: " + s,
			Description: "Hostname indexed by Shodan's DNS data.",
			Evidence:    map[string]any{"source": "shodan"},
			Observable:  s,
		})
	}

	for _, h := range d.Hosts {
		for _, svc := range h.Services {
			addr := net.JoinHostPort(h.IP, strconv.Itoa(svc.Port))
			product := strings.TrimSpace(svc.Product + " " + svc.Version)
			f := core.Finding{
				Category:    core.CategoryService,
				Severity:    core.SeverityInfo,
				Confidence:  0.8,
				Title:       fmt.Sprintf("Exposed service %s/%s", addr, transport(svc)),
				Description: fmt.Sprintf("Shodan indexed an open port on %s (%s).", h.IP, h.Org),
				Evidence: map[string]any{
					"ip": h.IP, "port": svc.Port, "transport": transport(svc),
					"product": product, "org": h.Org, "hostnames": h.Hostnames,
				},
				Observable: addr,
			}
			if name, ok := riskyPorts[svc.Port]; ok {
				f.Severity = core.SeverityMedium
				f.Title = fmt.Sprintf("%s exposed to the internet at %s", name, addr)
				f.Recommendations = []string{
					fmt.Sprintf("Restrict %s to trusted networks or a VPN.", name),
				}
			}
			out = append(out, f)

			ids := make([]string, 0, len(svc.Vulns))
			for id := range svc.Vulns {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				v := svc.Vulns[id]
				out = append(out, core.Finding{
					Category:    core.CategoryVuln,
					Severity:    cveSeverity(v.CVSS),
					Confidence:  0.6,
					Title:       fmt.Sprintf("%s on %s", id, addr),
					Description: strings.TrimSpace(v.Summary),
					Evidence:    map[string]any{"cve": id, "cvss": v.CVSS, "product": product},
					Observable:  id + "@" + addr,
					Recommendations: []string{
						"Verify the version in use and patch or upgrade the affected software.",
					},
				})
			}
		}
	}
	return out
}

func transport(s Service) string {
	if s.Transport == "" {
		return "tcp"
	}
	return s.Transport
}
