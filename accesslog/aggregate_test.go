package accesslog

import "testing"

func TestAggregator_Counts(t *testing.T) {
	agg := NewAggregator()
	for _, line := range []string{lineTunnel, lineGet, lineDenied} {
		e, ok := ParseLine(line)
		if !ok {
			t.Fatalf("fixture line should parse: %q", line)
		}
		agg.Add(e)
	}
	s := agg.Snapshot()

	if s.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", s.TotalRequests)
	}
	if s.AllowedRequests != 2 {
		t.Errorf("AllowedRequests = %d, want 2", s.AllowedRequests)
	}
	if s.DeniedRequests != 1 {
		t.Errorf("DeniedRequests = %d, want 1", s.DeniedRequests)
	}
	if s.UniqueDomains != 3 {
		t.Errorf("UniqueDomains = %d, want 3", s.UniqueDomains)
	}

	sum := 0
	for _, c := range s.Domains {
		sum += c.Allowed + c.Denied
	}
	if sum != s.TotalRequests {
		t.Errorf("per-domain counts sum to %d, want %d", sum, s.TotalRequests)
	}

	evil := s.Domains["evil.example.com"]
	if evil.Denied != 1 || evil.Allowed != 0 || evil.Total != 1 {
		t.Errorf("evil.example.com = %+v", evil)
	}
}

func TestAggregator_Empty(t *testing.T) {
	s := NewAggregator().Snapshot()
	if s.TotalRequests != 0 || s.AllowedRequests != 0 || s.DeniedRequests != 0 {
		t.Errorf("empty aggregation should be all zero, got %+v", s)
	}
	if s.TimeRange != nil {
		t.Error("empty aggregation must have a nil time range")
	}
	if s.UniqueDomains != 0 {
		t.Errorf("UniqueDomains = %d, want 0", s.UniqueDomains)
	}
}

func TestAggregator_TimeRange(t *testing.T) {
	agg := NewAggregator()
	agg.Add(&Entry{Timestamp: 200, Domain: "a.com", Allowed: true})
	agg.Add(&Entry{Timestamp: 100, Domain: "a.com", Allowed: true})
	agg.Add(&Entry{Timestamp: 300, Domain: "a.com", Allowed: true})

	s := agg.Snapshot()
	if s.TimeRange == nil {
		t.Fatal("expected a time range")
	}
	if s.TimeRange.Start.Unix() != 100 {
		t.Errorf("Start = %d, want 100", s.TimeRange.Start.Unix())
	}
	if s.TimeRange.End.Unix() != 300 {
		t.Errorf("End = %d, want 300", s.TimeRange.End.Unix())
	}
}

func TestAggregator_DashDomainExcluded(t *testing.T) {
	agg := NewAggregator()
	agg.Add(&Entry{Timestamp: 1, Domain: "-", Allowed: false})
	s := agg.Snapshot()

	if s.TotalRequests != 1 || s.DeniedRequests != 1 {
		t.Errorf("totals should still count, got %+v", s)
	}
	if len(s.Domains) != 0 {
		t.Errorf("dash domain must not appear in per-domain stats: %v", s.Domains)
	}
}

func TestAggregator_SnapshotIsolated(t *testing.T) {
	agg := NewAggregator()
	agg.Add(&Entry{Timestamp: 1, Domain: "a.com", Allowed: true})

	s1 := agg.Snapshot()
	s1.Domains["a.com"] = DomainCount{Allowed: 99, Total: 99}

	s2 := agg.Snapshot()
	if s2.Domains["a.com"].Allowed != 1 {
		t.Error("mutating a snapshot must not affect the accumulator")
	}
}

func TestStats_ByRegistrableDomain(t *testing.T) {
	agg := NewAggregator()
	agg.Add(&Entry{Timestamp: 1, Domain: "api.github.com", Allowed: true})
	agg.Add(&Entry{Timestamp: 2, Domain: "raw.github.com", Allowed: false})
	agg.Add(&Entry{Timestamp: 3, Domain: "192.168.1.1", Allowed: true})

	rollup := agg.Snapshot().ByRegistrableDomain()
	gh := rollup["github.com"]
	if gh.Allowed != 1 || gh.Denied != 1 || gh.Total != 2 {
		t.Errorf("github.com rollup = %+v", gh)
	}
	if _, ok := rollup["192.168.1.1"]; !ok {
		t.Error("IP entries should fall back to themselves")
	}
}
