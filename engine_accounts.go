package authkit

import "context"

// ListAccounts returns the user's login methods.
func (e *Engine) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}

	accounts, err := e.directory.ListAccounts(ctx, userID)
	if err != nil {
		return nil, e.wrapStore(err)
	}

	return accounts, nil
}

// DisconnectAccount removes one login method from the user. The last
// remaining method cannot be removed; that would lock the user out for
// good. An account the user does not own fails with ErrNotFound.
func (e *Engine) DisconnectAccount(ctx context.Context, userID, accountID string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	accounts, err := e.directory.ListAccounts(ctx, userID)
	if err != nil {
		return e.wrapStore(err)
	}

	var target *Account
	for i := range accounts {
		if accounts[i].ID == accountID {
			target = &accounts[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	if len(accounts) <= 1 {
		return ErrLastLoginMethod
	}

	if err := e.directory.DeleteAccount(ctx, userID, accountID); err != nil {
		return e.wrapStore(err)
	}

	e.metrics.Inc(MetricAccountDisconnected)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditAccountDisconnected,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"provider": target.Provider},
	})

	return nil
}
