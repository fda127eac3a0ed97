package metrics

import "testing"

func TestCollector_RecordLatency_BoundaryAndOverflowBuckets(t *testing.T) {
	c := NewCollector(100, 3000)

	// overflow_ms itself goes to the overflow bucket (buckets are [lower, upper)).
	c.RecordRequest("/a", 200, 3000)
	// Just under overflow_ms lands in the last regular bucket.
	c.RecordRequest("/a", 200, 2999)
	// Lower boundary of the first bucket.
	c.RecordRequest("/a", 200, 0)

	snap := c.Snapshot()
	regularBins := (3000 + 100 - 1) / 100
	if len(snap.LatencyBuckets) != regularBins+1 {
		t.Fatalf("bucket count: got %d, want %d", len(snap.LatencyBuckets), regularBins+1)
	}

	if snap.LatencyBuckets[0] != 1 {
		t.Fatalf("first bucket count: got %d, want %d", snap.LatencyBuckets[0], 1)
	}
	if snap.LatencyBuckets[regularBins-1] != 1 {
		t.Fatalf("last regular bucket count: got %d, want %d", snap.LatencyBuckets[regularBins-1], 1)
	}
	if snap.LatencyBuckets[regularBins] != 1 {
		t.Fatalf("overflow bucket count: got %d, want %d", snap.LatencyBuckets[regularBins], 1)
	}
}

func TestCollector_StatusClasses(t *testing.T) {
	c := NewCollector(50, 5000)

	c.RecordRequest("/games", 200, 10)
	c.RecordRequest("/games", 302, 10)
	c.RecordRequest("/games", 404, 10)
	c.RecordRequest("/games", 503, 10)

	snap := c.Snapshot()
	if snap.Requests != 4 {
		t.Fatalf("Requests: got %d, want 4", snap.Requests)
	}
	if snap.Successes != 2 {
		t.Fatalf("Successes: got %d, want 2", snap.Successes)
	}
	if snap.ClientErrors != 1 {
		t.Fatalf("ClientErrors: got %d, want 1", snap.ClientErrors)
	}
	if snap.ServerErrors != 1 {
		t.Fatalf("ServerErrors: got %d, want 1", snap.ServerErrors)
	}
}

func TestCollector_PerEndpointScoping(t *testing.T) {
	c := NewCollector(50, 5000)

	c.RecordRequest("/games", 200, 5)
	c.RecordRequest("/teams", 200, 5)
	c.RecordRateLimited("/teams")
	c.RecordReplay("/games")
	c.RecordConflict("/games")

	games, ok := c.EndpointSnapshot("/games")
	if !ok {
		t.Fatal("expected /games snapshot")
	}
	if games.Requests != 1 || games.Replays != 1 || games.Conflicts != 1 {
		t.Fatalf("/games: got requests=%d replays=%d conflicts=%d, want 1/1/1",
			games.Requests, games.Replays, games.Conflicts)
	}

	teams, ok := c.EndpointSnapshot("/teams")
	if !ok {
		t.Fatal("expected /teams snapshot")
	}
	if teams.RateLimited != 1 {
		t.Fatalf("/teams RateLimited: got %d, want 1", teams.RateLimited)
	}

	global := c.Snapshot()
	if global.Requests != 2 || global.RateLimited != 1 {
		t.Fatalf("global: got requests=%d rate_limited=%d, want 2/1", global.Requests, global.RateLimited)
	}

	if _, ok := c.EndpointSnapshot("/unknown"); ok {
		t.Fatal("expected no snapshot for unrecorded endpoint")
	}

	all := c.EndpointSnapshots()
	if len(all) != 2 {
		t.Fatalf("EndpointSnapshots: got %d entries, want 2", len(all))
	}
}
