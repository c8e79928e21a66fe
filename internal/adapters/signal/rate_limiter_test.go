package signal

import (
	"testing"
	"time"
)

func TestInviteRateLimiter(t *testing.T) {
	rl := NewInviteRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("Allow() over limit = true, want false")
	}

	// Other users are unaffected.
	if !rl.Allow("bob") {
		t.Error("Allow(bob) = false, want true")
	}

	// Window slides: the old attempts expire.
	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Error("Allow() after window = false, want true")
	}
}
