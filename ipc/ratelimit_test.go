package ipc

import "testing"

func TestRateLimiterAllowsUpToCapacity(t *testing.T) {
	rl := newRateLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}
	if rl.Allow(1) {
		t.Fatal("expected the bucket to be exhausted after capacity tokens")
	}
}

func TestRateLimiterTracksCallersIndependently(t *testing.T) {
	rl := newRateLimiter(1, 0)

	if !rl.Allow(1) {
		t.Fatal("uid 1 first call should be allowed")
	}
	if !rl.Allow(2) {
		t.Fatal("uid 2 should have its own bucket")
	}
	if rl.Allow(1) {
		t.Fatal("uid 1 should be exhausted")
	}
}
