// Package internal holds token generation and identifier helpers shared by
// the engine and its stores.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

// SessionID is a 128-bit random identifier, rendered as 22 chars of
// unpadded base64url. The fixed rendered length is relied on by the
// session store's rotation script.
type SessionID [16]byte

const (
	// EncodedSessionIDLen is the length of SessionID.String output.
	EncodedSessionIDLen = 22

	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize

	verificationTokenBytes = 32
	recoveryCodeBytes      = 4

	maxUsernameBase = 20
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewRefreshSecret returns the random half of an opaque refresh token.
// Only its SHA-256 is ever persisted.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs session ID and secret into a single opaque
// base64url string handed to the client.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}

// NewVerificationToken returns a 64-char hex token and the SHA-256 of the
// token string. The hash is the only thing stored server side.
func NewVerificationToken() (string, [32]byte, error) {
	var raw [verificationTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, err
	}

	token := hex.EncodeToString(raw[:])
	return token, HashVerificationToken(token), nil
}

func HashVerificationToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewRecoveryCode returns an 8-char lowercase hex recovery code.
func NewRecoveryCode() (string, error) {
	var raw [recoveryCodeBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// DeriveUsernameBase lowercases the display name and strips everything but
// ASCII letters and digits, capped at 20 chars. Returns "user" when nothing
// survives.
func DeriveUsernameBase(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r > unicode.MaxASCII {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxUsernameBase {
				break
			}
		}
	}

	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

// UsernameWithSuffix appends a random numeric suffix in [0, 10000) for
// collision retry.
func UsernameWithSuffix(base string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return base + "_" + strconv.FormatInt(n.Int64(), 10), nil
}
