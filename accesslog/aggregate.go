package accesslog

import (
	"time"

	"golang.org/x/net/publicsuffix"
)

// DomainCount is the per-domain request tally.
type DomainCount struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
	Total   int `json:"total"`
}

// TimeRange is the observed min/max timestamp span.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stats is an immutable aggregation snapshot. TimeRange is nil when no
// entries were observed.
type Stats struct {
	TotalRequests   int
	AllowedRequests int
	DeniedRequests  int
	UniqueDomains   int
	Domains         map[string]DomainCount
	TimeRange       *TimeRange
}

// Aggregator folds entries into running statistics in a single streaming
// pass with bounded memory.
type Aggregator struct {
	total   int
	allowed int
	denied  int
	domains map[string]DomainCount
	minTS   float64
	maxTS   float64
	seen    bool
}

// NewAggregator creates an empty accumulator.
func NewAggregator() *Aggregator {
	return &Aggregator{domains: make(map[string]DomainCount)}
}

// Add folds one entry into the accumulator.
func (a *Aggregator) Add(e *Entry) {
	a.total++
	if e.Allowed {
		a.allowed++
	} else {
		a.denied++
	}

	if !a.seen {
		a.minTS, a.maxTS = e.Timestamp, e.Timestamp
		a.seen = true
	} else {
		if e.Timestamp < a.minTS {
			a.minTS = e.Timestamp
		}
		if e.Timestamp > a.maxTS {
			a.maxTS = e.Timestamp
		}
	}

	// Lines without a usable domain still count in the totals but not in
	// the per-domain breakdown.
	if e.Domain == "-" || e.Domain == "" {
		return
	}
	c := a.domains[e.Domain]
	if e.Allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	c.Total++
	a.domains[e.Domain] = c
}

// Snapshot returns an immutable copy of the current statistics. Formatters
// never observe partial state through it.
func (a *Aggregator) Snapshot() *Stats {
	s := &Stats{
		TotalRequests:   a.total,
		AllowedRequests: a.allowed,
		DeniedRequests:  a.denied,
		UniqueDomains:   len(a.domains),
		Domains:         make(map[string]DomainCount, len(a.domains)),
	}
	for d, c := range a.domains {
		s.Domains[d] = c
	}
	if a.seen {
		s.TimeRange = &TimeRange{
			Start: (&Entry{Timestamp: a.minTS}).Time(),
			End:   (&Entry{Timestamp: a.maxTS}).Time(),
		}
	}
	return s
}

// ByRegistrableDomain rolls the per-domain tallies up to eTLD+1 using the
// public suffix list, falling back to the raw domain for IPs and internal
// names.
func (s *Stats) ByRegistrableDomain() map[string]DomainCount {
	rollup := make(map[string]DomainCount, len(s.Domains))
	for d, c := range s.Domains {
		key := d
		if etld, err := publicsuffix.EffectiveTLDPlusOne(d); err == nil {
			key = etld
		}
		r := rollup[key]
		r.Allowed += c.Allowed
		r.Denied += c.Denied
		r.Total += c.Total
		rollup[key] = r
	}
	return rollup
}
