package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		burst    int
		key      string
		calls    int
		wantPass int
	}{
		{
			name:     "burst allows initial requests",
			rps:      1,
			burst:    3,
			key:      "client-a",
			calls:    3,
			wantPass: 3,
		},
		{
			name:     "exceeding burst blocks",
			rps:      1,
			burst:    2,
			key:      "client-a",
			calls:    5,
			wantPass: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(tt.rps, tt.burst)

			passed := 0
			for i := 0; i < tt.calls; i++ {
				if rl.Allow(tt.key) {
					passed++
				}
			}

			if passed != tt.wantPass {
				t.Errorf("Allow() passed %d, want %d", passed, tt.wantPass)
			}
		})
	}
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	rl := New(1, 1)

	// Exhaust one client
	rl.Allow("client-a")
	if rl.Allow("client-a") {
		t.Error("client-a should be exhausted")
	}

	// Other clients are unaffected
	if !rl.Allow("client-b") {
		t.Error("client-b should be independent and allowed")
	}
}

func TestPerMinute(t *testing.T) {
	rl := PerMinute(12)

	// Full burst is available up front
	for i := 0; i < 12; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("client-a") {
		t.Error("request beyond the per-minute budget should be blocked")
	}
}

func TestKeyedRateLimiter_WaitContextCancelled(t *testing.T) {
	rl := New(0.1, 1) // Very slow: 1 request per 10 seconds

	// Exhaust the burst
	rl.Allow("client-a")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx, "client-a"); err == nil {
		t.Error("Wait() should fail when context canceled")
	}
}
