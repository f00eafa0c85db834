package twofactor

import (
	"errors"
	"testing"
	"time"
)

func testMachine() *Machine {
	return NewMachine(
		NewOTP(OTPConfig{Issuer: "authkit-test", Skew: 1}),
		Config{MaxAttempts: 5, LockoutDuration: 10 * time.Minute, RecoveryCodeCount: 8},
	)
}

func codeFor(t *testing.T, secret []byte, now time.Time) string {
	t.Helper()

	code, err := hotpCode(secret, now.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

func enabledState(t *testing.T, m *Machine, now time.Time) (*State, []string) {
	t.Helper()

	st := &State{}
	if _, _, err := m.BeginSetup(st, "a@example.com"); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	codes, err := m.ConfirmEnable(st, codeFor(t, st.PendingSecret, now), now)
	if err != nil {
		t.Fatalf("ConfirmEnable: %v", err)
	}
	return st, codes
}

func TestSetupAndEnable(t *testing.T) {
	m := testMachine()
	now := time.Now()

	st := &State{}
	secret, uri, err := m.BeginSetup(st, "a@example.com")
	if err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if secret == "" || uri == "" {
		t.Fatal("empty setup material")
	}
	if st.Enabled {
		t.Fatal("setup must not enable")
	}

	codes, err := m.ConfirmEnable(st, codeFor(t, st.PendingSecret, now), now)
	if err != nil {
		t.Fatalf("ConfirmEnable: %v", err)
	}
	if !st.Enabled {
		t.Fatal("not enabled after confirm")
	}
	if len(codes) != 8 {
		t.Fatalf("recovery codes = %d, want 8", len(codes))
	}
	if len(st.PendingSecret) != 0 {
		t.Fatal("pending secret must clear on enable")
	}
	if len(st.Secret) == 0 {
		t.Fatal("active secret missing after enable")
	}
}

func TestConfirmEnableGuards(t *testing.T) {
	m := testMachine()
	now := time.Now()

	st := &State{}
	if _, err := m.ConfirmEnable(st, "123456", now); !errors.Is(err, ErrSetupNotInitiated) {
		t.Fatalf("err = %v, want ErrSetupNotInitiated", err)
	}

	if _, _, err := m.BeginSetup(st, "a@example.com"); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if _, err := m.ConfirmEnable(st, "000000", now); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}

	if _, err := m.ConfirmEnable(st, codeFor(t, st.PendingSecret, now), now); err != nil {
		t.Fatalf("ConfirmEnable: %v", err)
	}

	if _, _, err := m.BeginSetup(st, "a@example.com"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("err = %v, want ErrAlreadyEnabled", err)
	}
}

func TestVerifyOTPLockout(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, _ := enabledState(t, m, now)

	// Five wrong codes arm a ten-minute lock.
	for i := 0; i < 5; i++ {
		if err := m.VerifyOTP(st, "000000", now); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d err = %v, want ErrInvalidCode", i, err)
		}
	}
	if st.LockedUntil.IsZero() {
		t.Fatal("lock must be armed after max attempts")
	}

	// Even a correct code is rejected while locked.
	if err := m.VerifyOTP(st, codeFor(t, st.Secret, now), now); !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}

	// After the lock expires the correct code works and counters reset.
	later := now.Add(10*time.Minute + time.Second)
	if err := m.VerifyOTP(st, codeFor(t, st.Secret, later), later); err != nil {
		t.Fatalf("VerifyOTP after lock: %v", err)
	}
	if st.FailedAttempts != 0 || !st.LockedUntil.IsZero() {
		t.Fatal("counters must reset on success")
	}
}

func TestVerifyOTPNotEnabled(t *testing.T) {
	m := testMachine()

	st := &State{}
	if err := m.VerifyOTP(st, "123456", time.Now()); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("err = %v, want ErrNotEnabled", err)
	}
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, codes := enabledState(t, m, now)

	if err := m.ConsumeRecoveryCode(st, codes[0], now); err != nil {
		t.Fatalf("ConsumeRecoveryCode: %v", err)
	}
	if m.RemainingRecoveryCodes(st) != 7 {
		t.Fatalf("remaining = %d, want 7", m.RemainingRecoveryCodes(st))
	}

	if err := m.ConsumeRecoveryCode(st, codes[0], now); !errors.Is(err, ErrInvalidRecoveryCode) {
		t.Fatalf("reused code err = %v, want ErrInvalidRecoveryCode", err)
	}

	// The other codes stay valid.
	if err := m.ConsumeRecoveryCode(st, codes[1], now); err != nil {
		t.Fatalf("second code: %v", err)
	}
}

func TestRecoveryCodeNormalization(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, codes := enabledState(t, m, now)

	spaced := " " + codes[0][:4] + "-" + codes[0][4:] + " "
	if err := m.ConsumeRecoveryCode(st, spaced, now); err != nil {
		t.Fatalf("normalized code rejected: %v", err)
	}
}

func TestRecoveryCodeClearsLock(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, codes := enabledState(t, m, now)

	for i := 0; i < 5; i++ {
		_ = m.VerifyOTP(st, "000000", now)
	}
	if st.LockedUntil.IsZero() {
		t.Fatal("expected lock")
	}

	// While locked the recovery path is blocked too.
	if err := m.ConsumeRecoveryCode(st, codes[0], now); !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}

	later := st.LockedUntil.Add(time.Second)
	if err := m.ConsumeRecoveryCode(st, codes[0], later); err != nil {
		t.Fatalf("ConsumeRecoveryCode after lock: %v", err)
	}
	if !st.LockedUntil.IsZero() {
		t.Fatal("recovery success must clear the lock")
	}
}

func TestRegenerateReplacesAllCodes(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, oldCodes := enabledState(t, m, now)

	newCodes, err := m.Regenerate(st)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if len(newCodes) != 8 {
		t.Fatalf("new codes = %d, want 8", len(newCodes))
	}

	if err := m.ConsumeRecoveryCode(st, oldCodes[0], now); !errors.Is(err, ErrInvalidRecoveryCode) {
		t.Fatalf("old code err = %v, want ErrInvalidRecoveryCode", err)
	}
	if err := m.ConsumeRecoveryCode(st, newCodes[0], now); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestDisableClearsEverything(t *testing.T) {
	m := testMachine()
	now := time.Now()
	st, codes := enabledState(t, m, now)

	if err := m.Disable(st); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if st.Enabled || len(st.Secret) != 0 || len(st.RecoveryHashes) != 0 {
		t.Fatalf("state not cleared: %+v", st)
	}

	if err := m.ConsumeRecoveryCode(st, codes[0], now); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("err = %v, want ErrNotEnabled", err)
	}
	if err := m.Disable(st); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("double disable err = %v, want ErrNotEnabled", err)
	}
}
