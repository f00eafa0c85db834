package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, cfg), mr
}

func TestLoginThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		MaxLoginAttempts: 3,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	if err := l.CheckLogin(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("CheckLogin fresh: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := l.RecordLoginFailure(ctx, "a@example.com", ""); err != nil {
			t.Fatalf("RecordLoginFailure %d: %v", i, err)
		}
	}

	// Budget spent; the next check and the next failure both reject.
	if err := l.RecordLoginFailure(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if err := l.CheckLogin(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Other identifiers are unaffected.
	if err := l.CheckLogin(ctx, "b@example.com", ""); err != nil {
		t.Fatalf("CheckLogin other identifier: %v", err)
	}
}

func TestLoginThrottleCooldownExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts: 1,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "")
	if err := l.RecordLoginFailure(ctx, "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if err := l.CheckLogin(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("CheckLogin after cooldown: %v", err)
	}
}

func TestLoginThrottlePerIP(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle: true,
		MaxLoginAttempts: 2,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	// Failures for different identifiers from the same IP share the IP
	// budget.
	_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.9")
	_ = l.RecordLoginFailure(ctx, "b@example.com", "10.0.0.9")
	if err := l.RecordLoginFailure(ctx, "c@example.com", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if err := l.CheckLogin(ctx, "d@example.com", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if err := l.CheckLogin(ctx, "d@example.com", "10.0.0.10"); err != nil {
		t.Fatalf("CheckLogin other IP: %v", err)
	}
}

func TestResetLoginClearsCounters(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle: true,
		MaxLoginAttempts: 1,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.9")
	_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.9")

	if err := l.ResetLogin(ctx, "a@example.com", "10.0.0.9"); err != nil {
		t.Fatalf("ResetLogin: %v", err)
	}
	if err := l.CheckLogin(ctx, "a@example.com", "10.0.0.9"); err != nil {
		t.Fatalf("CheckLogin after reset: %v", err)
	}
}

func TestIssuanceWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		IssuanceLimit:  2,
		IssuanceWindow: 3 * time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.AllowIssuance(ctx, "verify", "a@example.com"); err != nil {
			t.Fatalf("AllowIssuance %d: %v", i, err)
		}
	}
	if err := l.AllowIssuance(ctx, "verify", "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Kinds have independent budgets.
	if err := l.AllowIssuance(ctx, "reset", "a@example.com"); err != nil {
		t.Fatalf("AllowIssuance other kind: %v", err)
	}

	mr.FastForward(3*time.Minute + time.Second)

	if err := l.AllowIssuance(ctx, "verify", "a@example.com"); err != nil {
		t.Fatalf("AllowIssuance after window: %v", err)
	}
}
