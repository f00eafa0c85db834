package authkit

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authkit/twofactor"
)

// maxTwoFactorRetries bounds the compare-and-swap loop around two-factor
// state updates. Concurrent attempts against one account serialize
// through the Directory's version check; losing a race re-reads and
// replays the transition so no failed-attempt increment is lost.
const maxTwoFactorRetries = 4

// updateTwoFactor runs one state transition under versioned CAS. The
// transition's own error is returned after a successful write because
// failed attempts mutate state that still has to persist.
func (e *Engine) updateTwoFactor(ctx context.Context, userID string, transition func(st *twofactor.State) error) error {
	for attempt := 0; attempt < maxTwoFactorRetries; attempt++ {
		state, err := e.directory.GetTwoFactor(ctx, userID)
		if err != nil {
			return e.wrapStore(err)
		}

		expect := state.Version
		transitionErr := mapTwoFactorErr(transition(&state))

		if err := e.directory.UpdateTwoFactor(ctx, userID, state, expect); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return e.wrapStore(err)
		}

		return transitionErr
	}

	return ErrVersionConflict
}

func mapTwoFactorErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, twofactor.ErrNotEnabled):
		return ErrTwoFactorNotEnabled
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		return ErrTwoFactorAlreadyEnabled
	case errors.Is(err, twofactor.ErrSetupNotInitiated):
		return ErrSetupNotInitiated
	case errors.Is(err, twofactor.ErrLocked):
		return ErrTwoFactorLocked
	case errors.Is(err, twofactor.ErrInvalidCode):
		return ErrInvalidOtp
	case errors.Is(err, twofactor.ErrInvalidRecoveryCode):
		return ErrInvalidRecoveryCode
	default:
		return err
	}
}

// BeginTwoFactorSetup stages a fresh TOTP secret for the user and
// returns the enrollment material. The secret stays in the pending slot,
// not authoritative, until EnableTwoFactor confirms possession.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (TwoFactorSetup, error) {
	if e == nil || e.directory == nil {
		return TwoFactorSetup{}, ErrEngineNotReady
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, e.wrapStore(err)
	}

	var setup TwoFactorSetup
	err = e.updateTwoFactor(ctx, userID, func(st *twofactor.State) error {
		secret, uri, err := e.twoFactor.BeginSetup(st, user.Email)
		if err != nil {
			return err
		}
		setup = TwoFactorSetup{SecretBase32: secret, OtpauthURI: uri}
		return nil
	})
	if err != nil {
		return TwoFactorSetup{}, err
	}

	return setup, nil
}

// EnableTwoFactor promotes the pending secret once the user proves
// possession with a valid code. Returns the raw recovery codes exactly
// once; only their hashes are stored.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, otp string) ([]string, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	var codes []string
	err := e.updateTwoFactor(ctx, userID, func(st *twofactor.State) error {
		generated, err := e.twoFactor.ConfirmEnable(st, otp, time.Now())
		if err != nil {
			return err
		}
		codes = generated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorEnabled, UserID: userID, Success: true})
	return codes, nil
}

// DisableTwoFactor clears the user's second factor: secret, pending
// secret, recovery codes, and lockout counters, atomically.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	err := e.updateTwoFactor(ctx, userID, func(st *twofactor.State) error {
		return e.twoFactor.Disable(st)
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, AuditEvent{EventType: AuditTwoFactorDisabled, UserID: userID, Success: true})
	return nil
}

// RegenerateRecoveryCodes replaces the full recovery code set. Previous
// codes stop working immediately; the new raw codes are returned exactly
// once.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	var codes []string
	err := e.updateTwoFactor(ctx, userID, func(st *twofactor.State) error {
		generated, err := e.twoFactor.Regenerate(st)
		if err != nil {
			return err
		}
		codes = generated
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRecoveryCodeRegenerated)
	e.emitAudit(ctx, AuditEvent{EventType: AuditRecoveryCodesRenewed, UserID: userID, Success: true})
	return codes, nil
}

// TwoFactorStatus reports whether two-factor is active for the user.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (TwoFactorStatus, error) {
	if e == nil || e.directory == nil {
		return TwoFactorStatus{}, ErrEngineNotReady
	}

	state, err := e.directory.GetTwoFactor(ctx, userID)
	if err != nil {
		return TwoFactorStatus{}, e.wrapStore(err)
	}

	return TwoFactorStatus{Enabled: state.Enabled, EnabledAt: state.EnabledAt}, nil
}
