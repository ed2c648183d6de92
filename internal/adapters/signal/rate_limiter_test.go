package signal

import (
	"testing"
	"time"
)

func TestUploadRateLimiterWindow(t *testing.T) {
	rl := NewUploadRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("first two uploads must pass")
	}
	if rl.Allow("a") {
		t.Fatalf("third upload inside the window must be refused")
	}
	if !rl.Allow("b") {
		t.Fatalf("limits are per connection")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("a") {
		t.Fatalf("window did not slide")
	}
}

func TestUploadRateLimiterForget(t *testing.T) {
	rl := NewUploadRateLimiter(1, time.Hour)
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatalf("limit of one not applied")
	}
	rl.Forget("a")
	if !rl.Allow("a") {
		t.Fatalf("forgotten connection still limited")
	}
}
