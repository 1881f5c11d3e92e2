package aggregate

import (
	"math"
	"sort"
	"strings"

	"github.com/shii9/PassiveNio/internal/core"
)

// Aggregator merges findings that describe the same observable.
type Aggregator struct {
	order map[string]int
}

// New takes the declaration position of every module; it breaks ties
// between equally severe findings.
func New(order map[string]int) *Aggregator {
	if order == nil {
		order = map[string]int{}
	}
	return &Aggregator{order: order}
}

func (a *Aggregator) rank(moduleID string) int {
	if r, ok := a.order[moduleID]; ok {
		return r
	}
	return math.MaxInt32
}

// Aggregate deduplicates findings by canonical key and returns them sorted.
// The input is not modified. Aggregating an aggregated list is a no-op.
func (a *Aggregator) Aggregate(in []core.Finding) []core.Finding {
	groups := map[string][]core.Finding{}
	var keys []string
	for _, f := range in {
		k := Key(f)
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], f)
	}

	out := make([]core.Finding, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		if len(g) == 1 {
			out = append(out, g[0].Clone())
			continue
		}
		out = append(out, a.merge(k, g))
	}
	a.sort(out)
	return out
}

func (a *Aggregator) better(x, y core.Finding) bool {
	if x.Severity.Rank() != y.Severity.Rank() {
		return x.Severity.Rank() > y.Severity.Rank()
	}
	if x.Confidence != y.Confidence {
		return x.Confidence > y.Confidence
	}
	if rx, ry := a.rank(x.ModuleID), a.rank(y.ModuleID); rx != ry {
		return rx < ry
	}
	return x.Seq < y.Seq
}

func (a *Aggregator) merge(key string, group []core.Finding) core.Finding {
	rep := group[0]
	maxConf := 0.0
	firstSeen := rep.FirstSeen
	seen := map[string]bool{}
	var modules []string
	for _, f := range group {
		if a.better(f, rep) {
			rep = f
		}
		if f.Confidence > maxConf {
			maxConf = f.Confidence
		}
		if !f.FirstSeen.IsZero() && (firstSeen.IsZero() || f.FirstSeen.Before(firstSeen)) {
			firstSeen = f.FirstSeen
		}
		contributors := f.Modules
		if len(contributors) == 0 {
			contributors = []string{f.ModuleID}
		}
		for _, m := range contributors {
			if !seen[m] {
				seen[m] = true
				modules = append(modules, m)
			}
		}
	}
	sort.SliceStable(modules, func(i, j int) bool {
		ri, rj := a.rank(modules[i]), a.rank(modules[j])
		if ri != rj {
			return ri < rj
		}
		return modules[i] < modules[j]
	})

	merged := rep.Clone()
	merged.Modules = modules
	merged.Confidence = Corroborate(maxConf, len(modules))
	merged.FirstSeen = firstSeen
	if !strings.HasPrefix(key, "id:") {
		merged.ID = core.KeyID(rep.Category, key)
	}
	return merged
}

// Corroborate raises confidence with every additional distinct module:
// 1 - (1 - max) * 0.5^(n-1).
func Corroborate(maxConfidence float64, n int) float64 {
	if n <= 1 {
		return maxConfidence
	}
	c := 1 - (1-maxConfidence)*math.Pow(0.5, float64(n-1))
	return math.Round(c*1e4) / 1e4
}

func (a *Aggregator) sort(fs []core.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		x, y := fs[i], fs[j]
		if x.Severity.Rank() != y.Severity.Rank() {
			return x.Severity.Rank() > y.Severity.Rank()
		}
		if rx, ry := a.rank(x.ModuleID), a.rank(y.ModuleID); rx != ry {
			return rx < ry
		}
		if x.Seq != y.Seq {
			return x.Seq < y.Seq
		}
		return x.ID < y.ID
	})
}
