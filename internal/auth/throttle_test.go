package auth

import (
	"testing"
	"time"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
)

func testThrottleConfig() config.ThrottleConfig {
	return config.ThrottleConfig{
		Window:        15 * time.Minute,
		SoftThreshold: 3,
		HardThreshold: 5,
		Retention:     24 * time.Hour,
	}
}

func newTestThrottle(t *testing.T, cfg config.ThrottleConfig) *LoginThrottle {
	t.Helper()
	openTestDB(t)
	return NewLoginThrottle(database.NewAttemptRepo(), cfg)
}

func TestThrottleEscalation(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	now := time.Now()

	for i := 1; i <= 4; i++ {
		throttle.RecordAttempt("10.0.0.1", "alice", now)
		if got := throttle.Attempts("10.0.0.1", "alice", now); got != i {
			t.Fatalf("after %d attempts got count %d", i, got)
		}
		if blocked, _ := throttle.Blocked("10.0.0.1", "alice", now); blocked {
			t.Fatalf("blocked after only %d attempts", i)
		}
	}

	throttle.RecordAttempt("10.0.0.1", "alice", now)
	blocked, remaining := throttle.Blocked("10.0.0.1", "alice", now)
	if !blocked {
		t.Fatal("expected hard block at the fifth attempt")
	}
	if remaining <= 0 || remaining > 15*time.Minute {
		t.Fatalf("unexpected remaining lockout %v", remaining)
	}
}

func TestThrottleRetryAfterRunsFromEarliestAttempt(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	start := time.Now().Add(-10 * time.Minute)

	// Five attempts spread over the window, the first one ten minutes ago.
	for i := 0; i < 5; i++ {
		throttle.RecordAttempt("10.0.0.1", "alice", start.Add(time.Duration(i)*time.Minute))
	}

	now := time.Now()
	blocked, remaining := throttle.Blocked("10.0.0.1", "alice", now)
	if !blocked {
		t.Fatal("expected a hard block")
	}
	// Window is 15m and the earliest attempt was 10m ago, so about 5m left.
	if remaining < 4*time.Minute || remaining > 6*time.Minute {
		t.Fatalf("remaining = %v, want about 5m", remaining)
	}

	if s := throttle.RetryAfterSeconds("10.0.0.1", "alice", now); s < 4*60 || s > 6*60 {
		t.Fatalf("RetryAfterSeconds = %d, want about 300", s)
	}
}

func TestThrottleBlockLapsesWithStaleCount(t *testing.T) {
	cfg := testThrottleConfig()
	cfg.BlockTime = 5 * time.Minute
	throttle := newTestThrottle(t, cfg)

	first := time.Now().Add(-8 * time.Minute)
	for i := 0; i < 5; i++ {
		throttle.RecordAttempt("10.0.0.1", "alice", first)
	}

	// The bucket count is still at the hard threshold (the 15m window is
	// open) but the 5m block measured from the earliest attempt has lapsed.
	now := time.Now()
	if got := throttle.Attempts("10.0.0.1", "alice", now); got != 5 {
		t.Fatalf("expected count 5, got %d", got)
	}
	if blocked, _ := throttle.Blocked("10.0.0.1", "alice", now); blocked {
		t.Fatal("lapsed block must not keep the pair locked out")
	}
}

func TestThrottleDualKeyMax(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	now := time.Now()

	// Same username from rotating IPs: the per-username count governs.
	for i := 0; i < 5; i++ {
		throttle.RecordAttempt("10.0.0.100", "alice", now)
	}

	if got := throttle.Attempts("10.0.0.200", "alice", now); got != 5 {
		t.Fatalf("expected per-username count 5 from a fresh IP, got %d", got)
	}
	if blocked, _ := throttle.Blocked("10.0.0.200", "alice", now); !blocked {
		t.Fatal("rotating the source IP must not evade the block")
	}

	// Same IP against a different username: the per-IP count governs.
	if got := throttle.Attempts("10.0.0.100", "bob", now); got != 5 {
		t.Fatalf("expected per-IP count 5 for a fresh username, got %d", got)
	}
}

func TestThrottleWindowExpiry(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	past := time.Now().Add(-20 * time.Minute)

	for i := 0; i < 5; i++ {
		throttle.RecordAttempt("10.0.0.1", "alice", past)
	}

	now := time.Now()
	if got := throttle.Attempts("10.0.0.1", "alice", now); got != 0 {
		t.Fatalf("attempts outside the window must not count, got %d", got)
	}
	if blocked, _ := throttle.Blocked("10.0.0.1", "alice", now); blocked {
		t.Fatal("expired window must not block")
	}
}

func TestThrottleClear(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	now := time.Now()

	for i := 0; i < 5; i++ {
		throttle.RecordAttempt("10.0.0.1", "alice", now)
	}
	throttle.Clear("10.0.0.1", "alice")

	if got := throttle.Attempts("10.0.0.1", "alice", now); got != 0 {
		t.Fatalf("expected cleared count, got %d", got)
	}
	if blocked, _ := throttle.Blocked("10.0.0.1", "alice", now); blocked {
		t.Fatal("cleared pair must not be blocked")
	}
}

func TestClearKeepsPerIPPressure(t *testing.T) {
	throttle := newTestThrottle(t, testThrottleConfig())
	now := time.Now()

	// Spray five usernames from one address, then log into an account the
	// attacker controls. The per-IP count must survive the clear.
	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		throttle.RecordAttempt("10.9.9.9", user, now)
	}
	throttle.Clear("10.9.9.9", "mallory")

	if got := throttle.Attempts("10.9.9.9", "u6", now); got != 5 {
		t.Fatalf("per-IP attempts after clear = %d, want 5", got)
	}
	if blocked, _ := throttle.Blocked("10.9.9.9", "u6", now); !blocked {
		t.Fatal("address must stay blocked after clearing an unrelated pair")
	}
}
