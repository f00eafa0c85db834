// Package memdir is an in-memory Directory implementation. It backs the
// engine's own tests and works as a starting point for development; real
// deployments implement Directory on their own database.
//
// All uniqueness constraints and the two-factor version check are
// enforced under one mutex, so the package is safe for concurrent use.
package memdir

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/authkit"
	"github.com/halcyonlabs/authkit/twofactor"
)

type providerRef struct {
	provider          string
	providerAccountID string
}

// Directory stores users, accounts, and two-factor state in maps.
type Directory struct {
	mu sync.Mutex

	users    map[string]*authkit.User
	accounts map[string]*authkit.Account

	emailIndex    map[string]string // email -> user ID
	usernameIndex map[string]string // username -> user ID
	providerIndex map[providerRef]string

	twoFactor map[string]twofactor.State
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		users:         make(map[string]*authkit.User),
		accounts:      make(map[string]*authkit.Account),
		emailIndex:    make(map[string]string),
		usernameIndex: make(map[string]string),
		providerIndex: make(map[providerRef]string),
		twoFactor:     make(map[string]twofactor.State),
	}
}

func (d *Directory) CreateUserWithAccount(_ context.Context, user authkit.NewUser, account authkit.NewAccount) (authkit.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := d.emailIndex[email]; ok {
		return authkit.User{}, authkit.ErrConflict
	}
	if _, ok := d.usernameIndex[user.Username]; ok {
		return authkit.User{}, authkit.ErrConflict
	}
	ref := providerRef{account.Provider, account.ProviderAccountID}
	if account.Provider != authkit.ProviderCredentials {
		if _, ok := d.providerIndex[ref]; ok {
			return authkit.User{}, authkit.ErrConflict
		}
	}

	now := time.Now()
	row := &authkit.User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: now,
	}
	d.users[row.ID] = row
	d.emailIndex[email] = row.ID
	d.usernameIndex[row.Username] = row.ID

	acc := &authkit.Account{
		ID:                uuid.NewString(),
		UserID:            row.ID,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		PasswordHash:      account.PasswordHash,
		CreatedAt:         now,
	}
	d.accounts[acc.ID] = acc
	if acc.Provider != authkit.ProviderCredentials {
		d.providerIndex[ref] = acc.ID
	}

	return *row, nil
}

func (d *Directory) DeleteUser(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.users[userID]
	if !ok {
		return authkit.ErrNotFound
	}

	delete(d.users, userID)
	delete(d.emailIndex, row.Email)
	delete(d.usernameIndex, row.Username)
	delete(d.twoFactor, userID)

	for id, acc := range d.accounts {
		if acc.UserID != userID {
			continue
		}
		delete(d.accounts, id)
		if acc.Provider != authkit.ProviderCredentials {
			delete(d.providerIndex, providerRef{acc.Provider, acc.ProviderAccountID})
		}
	}

	return nil
}

func (d *Directory) GetUserByID(_ context.Context, userID string) (authkit.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.users[userID]
	if !ok {
		return authkit.User{}, authkit.ErrNotFound
	}
	return *row, nil
}

func (d *Directory) GetUserByEmail(_ context.Context, email string) (authkit.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.emailIndex[strings.ToLower(email)]
	if !ok {
		return authkit.User{}, authkit.ErrNotFound
	}
	return *d.users[id], nil
}

func (d *Directory) UsernameTaken(_ context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.usernameIndex[username]
	return ok, nil
}

func (d *Directory) UpdateUser(_ context.Context, userID string, patch authkit.UserPatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.users[userID]
	if !ok {
		return authkit.ErrNotFound
	}
	if patch.EmailVerifiedAt != nil {
		row.EmailVerifiedAt = *patch.EmailVerifiedAt
	}
	if patch.Blocked != nil {
		row.Blocked = *patch.Blocked
	}
	return nil
}

func (d *Directory) CreateAccount(_ context.Context, userID string, account authkit.NewAccount) (authkit.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[userID]; !ok {
		return authkit.Account{}, authkit.ErrNotFound
	}

	ref := providerRef{account.Provider, account.ProviderAccountID}
	if account.Provider != authkit.ProviderCredentials {
		if _, ok := d.providerIndex[ref]; ok {
			return authkit.Account{}, authkit.ErrConflict
		}
	} else {
		for _, acc := range d.accounts {
			if acc.UserID == userID && acc.Provider == authkit.ProviderCredentials {
				return authkit.Account{}, authkit.ErrConflict
			}
		}
	}

	acc := &authkit.Account{
		ID:                uuid.NewString(),
		UserID:            userID,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		PasswordHash:      account.PasswordHash,
		CreatedAt:         time.Now(),
	}
	d.accounts[acc.ID] = acc
	if acc.Provider != authkit.ProviderCredentials {
		d.providerIndex[ref] = acc.ID
	}

	return *acc, nil
}

func (d *Directory) ListAccounts(_ context.Context, userID string) ([]authkit.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []authkit.Account
	for _, acc := range d.accounts {
		if acc.UserID == userID {
			out = append(out, *acc)
		}
	}
	return out, nil
}

func (d *Directory) DeleteAccount(_ context.Context, userID, accountID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.accounts[accountID]
	if !ok || acc.UserID != userID {
		return authkit.ErrNotFound
	}

	delete(d.accounts, accountID)
	if acc.Provider != authkit.ProviderCredentials {
		delete(d.providerIndex, providerRef{acc.Provider, acc.ProviderAccountID})
	}
	return nil
}

func (d *Directory) FindAccountByProvider(_ context.Context, provider, providerAccountID string) (authkit.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.providerIndex[providerRef{provider, providerAccountID}]
	if !ok {
		return authkit.Account{}, authkit.ErrNotFound
	}
	return *d.accounts[id], nil
}

func (d *Directory) CredentialsAccount(_ context.Context, userID string) (authkit.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, acc := range d.accounts {
		if acc.UserID == userID && acc.Provider == authkit.ProviderCredentials {
			return *acc, nil
		}
	}
	return authkit.Account{}, authkit.ErrNotFound
}

func (d *Directory) UpdatePasswordHash(_ context.Context, accountID, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.accounts[accountID]
	if !ok {
		return authkit.ErrNotFound
	}
	acc.PasswordHash = passwordHash
	return nil
}

// GetTwoFactor returns the zero State for users that never touched
// two-factor, matching the contract that absence of state means disabled.
func (d *Directory) GetTwoFactor(_ context.Context, userID string) (twofactor.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return cloneState(d.twoFactor[userID]), nil
}

func (d *Directory) UpdateTwoFactor(_ context.Context, userID string, state twofactor.State, expectVersion uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.twoFactor[userID]
	if current.Version != expectVersion {
		return authkit.ErrVersionConflict
	}

	state.Version = expectVersion + 1
	d.twoFactor[userID] = cloneState(state)
	return nil
}

// cloneState copies the slice fields so callers never alias stored state.
func cloneState(st twofactor.State) twofactor.State {
	if st.Secret != nil {
		st.Secret = append([]byte(nil), st.Secret...)
	}
	if st.PendingSecret != nil {
		st.PendingSecret = append([]byte(nil), st.PendingSecret...)
	}
	if st.RecoveryHashes != nil {
		st.RecoveryHashes = append([][32]byte(nil), st.RecoveryHashes...)
	}
	return st
}
