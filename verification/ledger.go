// Package verification is the one-shot token ledger backing email
// verification and password reset.
//
// Tokens are never stored: records are keyed by the SHA-256 of the token
// string. A per-(identifier, purpose) pending pointer enforces at most one
// unconsumed token per address and purpose; issuing a replacement retires
// the previous record. Consumption marks the record used instead of
// deleting it, so the row stays inspectable until its TTL runs out.
package verification

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose tags what a token is allowed to redeem.
type Purpose uint8

const (
	PurposeEmailVerify Purpose = iota + 1
	PurposePasswordReset
)

func (p Purpose) valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

var (
	// ErrNotFound covers unknown, expired, wrong-purpose, and already-used
	// tokens uniformly so callers cannot distinguish them.
	ErrNotFound = errors.New("verification record not found")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("verification redis unavailable")
)

const (
	recordVersion = 1
	maxCASRetries = 4
)

// Record is one ledger entry. Identifier is the email address the token
// was issued for; UsedAt is zero until consumption.
type Record struct {
	ID         string
	UserID     string
	Identifier string
	Purpose    Purpose
	IssuedAt   int64
	ExpiresAt  int64
	UsedAt     int64
}

// Store is the Redis-backed ledger.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) tokenKey(tokenHash [32]byte) string {
	return s.prefix + ":t:" + hex.EncodeToString(tokenHash[:])
}

func (s *Store) pendingKey(purpose Purpose, identifier string) string {
	return fmt.Sprintf("%s:p:%d:%s", s.prefix, purpose, identifier)
}

// Issue writes a new record for tokenHash and points the pending index at
// it. Any previous unconsumed record for the same (identifier, purpose)
// is deleted first, which keeps the at-most-one-pending invariant and
// invalidates links from older emails.
func (s *Store) Issue(ctx context.Context, rec *Record, tokenHash [32]byte, ttl time.Duration) error {
	if !rec.Purpose.valid() {
		return errors.New("invalid verification purpose")
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pendingKey := s.pendingKey(rec.Purpose, rec.Identifier)

	prior, err := s.redis.Get(ctx, pendingKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prior != "" {
			pipe.Del(ctx, s.prefix+":t:"+prior)
		}
		pipe.Set(ctx, s.tokenKey(tokenHash), encoded, ttl)
		pipe.Set(ctx, pendingKey, hex.EncodeToString(tokenHash[:]), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Consume redeems the token for the given purpose. Exactly one concurrent
// caller wins; the record is marked used in a WATCH transaction and the
// pending pointer is cleared. Expired, already-used, and wrong-purpose
// records all return ErrNotFound.
func (s *Store) Consume(ctx context.Context, tokenHash [32]byte, purpose Purpose, now time.Time) (*Record, error) {
	key := s.tokenKey(tokenHash)

	for i := 0; i < maxCASRetries; i++ {
		var matched *Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}

			if rec.UsedAt != 0 || rec.Purpose != purpose || now.Unix() > rec.ExpiresAt {
				return ErrNotFound
			}

			rec.UsedAt = now.Unix()
			updated, err := encodeRecord(rec)
			if err != nil {
				return err
			}

			remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
			if remaining <= 0 {
				return ErrNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				pipe.Del(ctx, s.pendingKey(rec.Purpose, rec.Identifier))
				return nil
			})
			if err != nil {
				return err
			}

			matched = rec
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		return matched, nil
	}

	return nil, ErrNotFound
}

// PendingSince reports the issue time of the current pending record for
// the identifier, or false when none exists.
func (s *Store) PendingSince(ctx context.Context, purpose Purpose, identifier string) (time.Time, bool, error) {
	hashHex, err := s.redis.Get(ctx, s.pendingKey(purpose, identifier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	data, err := s.redis.Get(ctx, s.prefix+":t:"+hashHex).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return time.Time{}, false, err
	}

	return time.Unix(rec.IssuedAt, 0), true, nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersion)
	buf.WriteByte(byte(rec.Purpose))

	for _, v := range []int64{rec.IssuedAt, rec.ExpiresAt, rec.UsedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{rec.ID, rec.UserID, rec.Identifier} {
		if len(field) > 65535 {
			return nil, errors.New("verification record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion {
		return nil, errors.New("invalid verification record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &Record{Purpose: Purpose(purpose)}

	for _, target := range []*int64{&rec.IssuedAt, &rec.ExpiresAt, &rec.UsedAt} {
		if err := binary.Read(reader, binary.BigEndian, target); err != nil {
			return nil, err
		}
	}

	for _, target := range []*string{&rec.ID, &rec.UserID, &rec.Identifier} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*target = string(raw)
	}

	return rec, nil
}
