package authkit

import (
	"context"
	"time"

	"github.com/halcyonlabs/authkit/twofactor"
)

// ProviderCredentials is the provider name for password-based accounts.
// Every other provider string identifies an external OAuth provider.
const ProviderCredentials = "credentials"

// User is the identity record the host application persists.
type User struct {
	ID              string
	Email           string
	Username        string
	Name            string
	Role            string
	Blocked         bool
	EmailVerifiedAt time.Time
	CreatedAt       time.Time
}

// Verified reports whether the user's email address has been confirmed.
func (u User) Verified() bool {
	return !u.EmailVerifiedAt.IsZero()
}

// Account is a login method attached to a user: either the credentials
// account holding the password hash, or a link to an external provider.
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	PasswordHash      string
	CreatedAt         time.Time
}

// NewUser carries the fields for creating a user row.
type NewUser struct {
	Email    string
	Username string
	Name     string
	Role     string
}

// NewAccount carries the fields for creating an account row.
type NewAccount struct {
	Provider          string
	ProviderAccountID string
	PasswordHash      string
}

// UserPatch updates individual user fields. Nil pointers leave the field
// untouched.
type UserPatch struct {
	EmailVerifiedAt *time.Time
	Blocked         *bool
}

// Directory is the persistence boundary for users, accounts, and two-factor
// state. The host application implements it on top of its own database.
//
// Implementations must enforce uniqueness of email, username, and
// (provider, provider account ID) pairs, returning [ErrConflict] on
// violation, and must make CreateUserWithAccount atomic: on error neither
// row may remain. UpdateTwoFactor is a compare-and-swap keyed on the state
// version and must return [ErrVersionConflict] when the stored version has
// moved.
type Directory interface {
	CreateUserWithAccount(ctx context.Context, user NewUser, account NewAccount) (User, error)
	DeleteUser(ctx context.Context, userID string) error

	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	UpdateUser(ctx context.Context, userID string, patch UserPatch) error

	CreateAccount(ctx context.Context, userID string, account NewAccount) (Account, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
	DeleteAccount(ctx context.Context, userID, accountID string) error
	FindAccountByProvider(ctx context.Context, provider, providerAccountID string) (Account, error)
	CredentialsAccount(ctx context.Context, userID string) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error

	GetTwoFactor(ctx context.Context, userID string) (twofactor.State, error)
	UpdateTwoFactor(ctx context.Context, userID string, state twofactor.State, expectVersion uint64) error
}

// Email is an outbound message handed to the host [Mailer].
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers outbound email. Sends are dispatched from a background
// worker; a failed send is logged and dropped, never surfaced to the
// request that triggered it.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// TokenPair is the result of any operation that establishes a session.
type TokenPair struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Login. When the user has two-factor enabled
// and no code was supplied, TwoFactorRequired is set and Tokens is nil.
type LoginResult struct {
	UserID            string
	TwoFactorRequired bool
	Tokens            *TokenPair
}

// ProviderIdentity is the already-verified identity returned by an external
// OAuth exchange. Token exchange itself happens in the host application.
type ProviderIdentity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
}

// SessionInfo is the caller-visible view of a session row.
type SessionInfo struct {
	SessionID       string
	UserID          string
	ParentSessionID string
	IP              string
	UserAgent       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RevokedAt       time.Time
	Current         bool
}

// AccessIdentity is the result of validating an access token against the
// live session row.
type AccessIdentity struct {
	UserID    string
	SessionID string
}

// TwoFactorSetup is returned by BeginTwoFactorSetup.
type TwoFactorSetup struct {
	SecretBase32 string
	OtpauthURI   string
}

// TwoFactorStatus reports whether two-factor is active for a user.
type TwoFactorStatus struct {
	Enabled   bool
	EnabledAt time.Time
}
