// Package authkit is an embeddable identity and authentication core.
//
// It implements credential and OAuth registration, login, refresh-token
// rotation with reuse detection, email verification, password reset, and
// TOTP-based two-factor authentication. Sessions and one-shot verification
// tokens live in Redis; users and accounts live behind the host-provided
// [Directory] interface, so authkit never owns the application's user schema.
//
// Construct an [Engine] through the builder:
//
//	engine, err := authkit.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithDirectory(dir).
//		WithMailer(mailer).
//		Build()
//
// # Architecture boundaries
//
// authkit is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (TokenPair, SessionInfo, TwoFactorStatus, etc.).
// Orchestration lives here; durable state lives in the session and
// verification sub-packages and behind [Directory].
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or encoding details in its
//     public API.
//   - Perform I/O during construction (Builder is allocation-only until
//     Build).
//   - Transport email or HTTP traffic itself: mail delivery goes through
//     the host-provided [Mailer], and routing stays in the host app.
//
// All Engine methods are safe for concurrent use after Build.
package authkit
