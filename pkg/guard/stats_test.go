package guard

import (
	"sync"
	"testing"
)

func TestTierCountersSnapshot(t *testing.T) {
	c := NewTierCounters()

	for i := 0; i < 95; i++ {
		c.RecordRequest()
		c.RecordAttempt(TierOutcome{Tier: 1, Status: StatusCompleted})
		c.RecordAdopted(1)
	}
	for i := 0; i < 4; i++ {
		c.RecordRequest()
		c.RecordAttempt(TierOutcome{Tier: 1, Status: StatusCompleted})
		c.RecordAttempt(TierOutcome{Tier: 2, Status: StatusCompleted})
		c.RecordAdopted(2)
	}
	c.RecordRequest()
	c.RecordAttempt(TierOutcome{Tier: 1, Status: StatusCompleted})
	c.RecordAttempt(TierOutcome{Tier: 2, Status: StatusTimedOut})
	c.RecordAttempt(TierOutcome{Tier: 3, Status: StatusErrored})
	c.RecordAdopted(3)

	s := c.Snapshot()
	if s.TotalRequests != 100 {
		t.Errorf("total requests = %d, want 100", s.TotalRequests)
	}
	if s.Tiers[0].Invocations != 100 || s.Tiers[1].Invocations != 5 || s.Tiers[2].Invocations != 1 {
		t.Errorf("invocation counts wrong: %+v", s.Tiers)
	}
	if s.Tiers[1].Timeouts != 1 || s.Tiers[2].Errors != 1 {
		t.Errorf("failure counts wrong: %+v", s.Tiers)
	}
	if s.Tiers[0].AdoptedShare != 0.95 {
		t.Errorf("tier 1 share = %v, want 0.95", s.Tiers[0].AdoptedShare)
	}
}

func TestTierCountersReset(t *testing.T) {
	c := NewTierCounters()
	c.RecordRequest()
	c.RecordCacheHit()
	c.RecordAttempt(TierOutcome{Tier: 1, Status: StatusCompleted})
	c.RecordAdopted(1)

	c.Reset()
	s := c.Snapshot()
	if s.TotalRequests != 0 || s.CacheHits != 0 || s.Tiers[0].Invocations != 0 || s.Tiers[0].Adopted != 0 {
		t.Errorf("reset left residue: %+v", s)
	}
}

func TestTierCountersConcurrent(t *testing.T) {
	c := NewTierCounters()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.RecordRequest()
				c.RecordAttempt(TierOutcome{Tier: 1, Status: StatusCompleted})
				c.RecordAdopted(1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.TotalRequests != 8000 || s.Tiers[0].Adopted != 8000 {
		t.Errorf("lost updates under concurrency: %+v", s)
	}
}

func TestEvaluateHealth(t *testing.T) {
	band := HealthBand{Tier1Floor: 0.80, Tier3Ceiling: 0.05, MinSamples: 10}

	build := func(t1, t2, t3 uint64) StatsSnapshot {
		c := NewTierCounters()
		for i := uint64(0); i < t1; i++ {
			c.RecordAdopted(1)
		}
		for i := uint64(0); i < t2; i++ {
			c.RecordAdopted(2)
		}
		for i := uint64(0); i < t3; i++ {
			c.RecordAdopted(3)
		}
		return c.Snapshot()
	}

	if h := EvaluateHealth(build(95, 4, 1), band); !h.Healthy {
		t.Errorf("reference 95/4/1 split should be healthy: %s", h.Reason)
	}
	if h := EvaluateHealth(build(50, 40, 10), band); h.Healthy {
		t.Error("tier 1 starvation should be unhealthy")
	}
	if h := EvaluateHealth(build(85, 5, 10), band); h.Healthy {
		t.Error("tier 3 overflow should be unhealthy")
	}
	if h := EvaluateHealth(build(1, 1, 1), band); !h.Healthy {
		t.Errorf("too few samples should not trip the alarm: %s", h.Reason)
	}
}
