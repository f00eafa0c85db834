package twofactor

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	internal "github.com/halcyonlabs/authkit/internal"
)

var (
	// ErrNotEnabled rejects operations that require an active second factor.
	ErrNotEnabled = errors.New("two-factor not enabled")
	// ErrAlreadyEnabled rejects setup on an already active second factor.
	ErrAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrSetupNotInitiated rejects enable without a pending setup secret.
	ErrSetupNotInitiated = errors.New("two-factor setup not initiated")
	// ErrLocked is returned while the failed-attempt lockout is in effect.
	// The lock is checked before any code comparison.
	ErrLocked = errors.New("two-factor locked")
	// ErrInvalidCode is returned for a wrong one-time code.
	ErrInvalidCode = errors.New("invalid one-time code")
	// ErrInvalidRecoveryCode is returned for an unknown or consumed
	// recovery code.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")
)

// State is the persisted two-factor record for one user. The Directory
// stores it opaquely and bumps Version on every write; the engine uses
// Version for compare-and-swap so concurrent verifications never lose a
// failed-attempt increment.
type State struct {
	Version   uint64
	Enabled   bool
	EnabledAt time.Time

	// Secret is the active TOTP secret; PendingSecret holds the setup
	// candidate until the user proves possession with a first valid code.
	Secret        []byte
	PendingSecret []byte

	RecoveryHashes [][32]byte

	FailedAttempts int
	LockedUntil    time.Time
}

// Config tunes the lockout and recovery code policy.
type Config struct {
	MaxAttempts       int
	LockoutDuration   time.Duration
	RecoveryCodeCount int
}

// Machine applies two-factor transitions to a State in place. Methods
// return the defined sentinel errors; any mutation left in the State must
// be persisted by the caller even when an error is returned (failed
// attempts count).
type Machine struct {
	otp    *OTP
	config Config
}

func NewMachine(otp *OTP, cfg Config) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 10 * time.Minute
	}
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = 8
	}
	return &Machine{otp: otp, config: cfg}
}

// BeginSetup stages a fresh secret in the pending slot and returns its
// base32 rendering plus the provisioning URI. Calling it again before
// ConfirmEnable replaces the pending secret.
func (m *Machine) BeginSetup(st *State, account string) (secretBase32, otpauthURI string, err error) {
	if st.Enabled {
		return "", "", ErrAlreadyEnabled
	}

	raw, encoded, err := m.otp.GenerateSecret()
	if err != nil {
		return "", "", err
	}

	st.PendingSecret = raw
	return encoded, m.otp.ProvisionURI(encoded, account), nil
}

// ConfirmEnable promotes the pending secret once the user proves
// possession with a valid code. Returns the raw recovery codes; only
// their hashes stay in the State, so this is the single chance to show
// them.
func (m *Machine) ConfirmEnable(st *State, code string, now time.Time) ([]string, error) {
	if st.Enabled {
		return nil, ErrAlreadyEnabled
	}
	if len(st.PendingSecret) == 0 {
		return nil, ErrSetupNotInitiated
	}

	ok, err := m.otp.Verify(st.PendingSecret, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, hashes, err := m.newRecoveryCodes()
	if err != nil {
		return nil, err
	}

	st.Secret = st.PendingSecret
	st.PendingSecret = nil
	st.Enabled = true
	st.EnabledAt = now
	st.RecoveryHashes = hashes
	st.FailedAttempts = 0
	st.LockedUntil = time.Time{}

	return codes, nil
}

// VerifyOTP checks a login-time code. A wrong code increments the failed
// counter; reaching the attempt cap arms the lockout. The lock is checked
// before verification, so a correct code cannot bypass an active lock.
func (m *Machine) VerifyOTP(st *State, code string, now time.Time) error {
	if !st.Enabled {
		return ErrNotEnabled
	}
	if now.Before(st.LockedUntil) {
		return ErrLocked
	}

	ok, err := m.otp.Verify(st.Secret, code, now)
	if err != nil {
		return err
	}
	if !ok {
		m.recordFailure(st, now)
		return ErrInvalidCode
	}

	st.FailedAttempts = 0
	st.LockedUntil = time.Time{}
	return nil
}

// ConsumeRecoveryCode redeems a single recovery code. Each code works
// exactly once; a successful redemption also clears the lockout so a
// locked-out user with a recovery code can get back in.
func (m *Machine) ConsumeRecoveryCode(st *State, code string, now time.Time) error {
	if !st.Enabled {
		return ErrNotEnabled
	}
	if now.Before(st.LockedUntil) {
		return ErrLocked
	}

	provided := HashRecoveryCode(code)

	match := -1
	for i := range st.RecoveryHashes {
		if subtle.ConstantTimeCompare(st.RecoveryHashes[i][:], provided[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		m.recordFailure(st, now)
		return ErrInvalidRecoveryCode
	}

	st.RecoveryHashes = append(st.RecoveryHashes[:match], st.RecoveryHashes[match+1:]...)
	st.FailedAttempts = 0
	st.LockedUntil = time.Time{}
	return nil
}

// Regenerate replaces the full recovery code set and returns the new raw
// codes.
func (m *Machine) Regenerate(st *State) ([]string, error) {
	if !st.Enabled {
		return nil, ErrNotEnabled
	}

	codes, hashes, err := m.newRecoveryCodes()
	if err != nil {
		return nil, err
	}

	st.RecoveryHashes = hashes
	return codes, nil
}

// Disable clears every second-factor artifact: secrets, recovery codes,
// and lockout counters.
func (m *Machine) Disable(st *State) error {
	if !st.Enabled {
		return ErrNotEnabled
	}

	st.Enabled = false
	st.EnabledAt = time.Time{}
	st.Secret = nil
	st.PendingSecret = nil
	st.RecoveryHashes = nil
	st.FailedAttempts = 0
	st.LockedUntil = time.Time{}
	return nil
}

// RemainingRecoveryCodes reports how many unused recovery codes are left.
func (m *Machine) RemainingRecoveryCodes(st *State) int {
	return len(st.RecoveryHashes)
}

func (m *Machine) recordFailure(st *State, now time.Time) {
	st.FailedAttempts++
	if st.FailedAttempts >= m.config.MaxAttempts {
		st.LockedUntil = now.Add(m.config.LockoutDuration)
		st.FailedAttempts = 0
	}
}

func (m *Machine) newRecoveryCodes() ([]string, [][32]byte, error) {
	codes := make([]string, 0, m.config.RecoveryCodeCount)
	hashes := make([][32]byte, 0, m.config.RecoveryCodeCount)

	for i := 0; i < m.config.RecoveryCodeCount; i++ {
		code, err := internal.NewRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, HashRecoveryCode(code))
	}

	return codes, hashes, nil
}

// HashRecoveryCode canonicalizes (trim, lowercase) and hashes a recovery
// code for storage or lookup.
func HashRecoveryCode(code string) [32]byte {
	canonical := []byte(normalizeRecoveryCode(code))
	return sha256.Sum256(canonical)
}

func normalizeRecoveryCode(code string) string {
	var b []byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b = append(b, c+('a'-'A'))
		case c == ' ' || c == '-':
			// separators users tend to type are ignored
		default:
			b = append(b, c)
		}
	}
	return string(b)
}
