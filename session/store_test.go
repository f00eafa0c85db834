package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "ak")
}

func hashOf(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

func testSession(id, userID string, secret string, now time.Time) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		RefreshHash: hashOf(secret),
		IP:          "203.0.113.9",
		UserAgent:   "test-agent/1.0",
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.IP != "203.0.113.9" || got.UserAgent != "test-agent/1.0" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash mismatch after round trip")
	}
	if got.Revoked() {
		t.Fatal("fresh session must not be revoked")
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRotateSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	old, child, err := store.Rotate(ctx, sess.ID, hashOf("secret-1"), "sess-bbbbbbbbbbbbbbbbbb", now)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if child != "sess-bbbbbbbbbbbbbbbbbb" {
		t.Fatalf("child = %q", child)
	}
	if !old.Revoked() {
		t.Fatal("rotated session must be revoked")
	}
	if old.ChildID != "sess-bbbbbbbbbbbbbbbbbb" {
		t.Fatalf("ChildID = %q", old.ChildID)
	}
	if old.UserID != "user-1" {
		t.Fatalf("UserID = %q", old.UserID)
	}

	// The stored record reflects the revocation and keeps the hash for
	// reuse detection.
	stored, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if !stored.Revoked() || stored.ChildID != "sess-bbbbbbbbbbbbbbbbbb" {
		t.Fatalf("stored record not updated: %+v", stored)
	}
	if stored.RefreshHash != hashOf("secret-1") {
		t.Fatal("stored hash must survive rotation")
	}
}

func TestRotateReuseReturnsChild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, _, err := store.Rotate(ctx, sess.ID, hashOf("secret-1"), "sess-bbbbbbbbbbbbbbbbbb", now); err != nil {
		t.Fatalf("first Rotate: %v", err)
	}

	// Presenting the original secret again is reuse; the successor chain
	// head comes back for revocation.
	_, child, err := store.Rotate(ctx, sess.ID, hashOf("secret-1"), "sess-cccccccccccccccccc", now)
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("err = %v, want ErrTokenReused", err)
	}
	if child != "sess-bbbbbbbbbbbbbbbbbb" {
		t.Fatalf("child = %q, want successor", child)
	}
}

func TestRotateMismatchRevokesLiveSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, _, err := store.Rotate(ctx, sess.ID, hashOf("wrong-secret"), "sess-bbbbbbbbbbbbbbbbbb", now)
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("err = %v, want ErrTokenReused", err)
	}

	stored, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Revoked() {
		t.Fatal("mismatched live session must be revoked")
	}
}

func TestRotateStaleSecretOnRevokedSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Revoke(ctx, sess.ID, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// A non-matching secret on a revoked session proves nothing about
	// reuse; it just reads as an expired session.
	_, _, err := store.Rotate(ctx, sess.ID, hashOf("other-secret"), "sess-bbbbbbbbbbbbbbbbbb", now)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestRotateMatchingSecretOnRevokedSessionWithoutSuccessor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Revoke(ctx, sess.ID, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The session was revoked, not rotated: there is no successor, so the
	// holder presents the only copy ever issued. That is an ordinary
	// expiry, not reuse.
	_, _, err := store.Rotate(ctx, sess.ID, hashOf("secret-1"), "sess-bbbbbbbbbbbbbbbbbb", now)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestRotateMissingAndExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, _, err := store.Rotate(ctx, "nope", hashOf("x"), "sess-bbbbbbbbbbbbbbbbbb", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: err = %v, want ErrNotFound", err)
	}

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	sess.ExpiresAt = now.Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, _, err := store.Rotate(ctx, sess.ID, hashOf("secret-1"), "sess-bbbbbbbbbbbbbbbbbb", now); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired: err = %v, want ErrExpired", err)
	}
}

func TestRevokeChain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Build a rotation chain a -> b -> c by rotating twice.
	a := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-a", now)
	if err := store.Save(ctx, a, time.Hour); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if _, _, err := store.Rotate(ctx, a.ID, hashOf("secret-a"), "sess-bbbbbbbbbbbbbbbbbb", now); err != nil {
		t.Fatalf("rotate a: %v", err)
	}
	b := testSession("sess-bbbbbbbbbbbbbbbbbb", "user-1", "secret-b", now)
	b.ParentID = a.ID
	if err := store.Save(ctx, b, time.Hour); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	if _, _, err := store.Rotate(ctx, b.ID, hashOf("secret-b"), "sess-cccccccccccccccccc", now); err != nil {
		t.Fatalf("rotate b: %v", err)
	}
	c := testSession("sess-cccccccccccccccccc", "user-1", "secret-c", now)
	c.ParentID = b.ID
	if err := store.Save(ctx, c, time.Hour); err != nil {
		t.Fatalf("Save c: %v", err)
	}

	// Reuse of the original token reports b as chain head; revoking the
	// chain must reach c.
	_, child, err := store.Rotate(ctx, a.ID, hashOf("secret-a"), "sess-dddddddddddddddddd", now)
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("err = %v, want ErrTokenReused", err)
	}

	revoked, err := store.RevokeChain(ctx, child, now)
	if err != nil {
		t.Fatalf("RevokeChain: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get c: %v", err)
	}
	if !got.Revoked() {
		t.Fatal("chain tail must be revoked after reuse response")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-1", now)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first, err := store.Revoke(ctx, sess.ID, now)
	if err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	second, err := store.Revoke(ctx, sess.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if first.RevokedAt != second.RevokedAt {
		t.Fatal("second revoke must not move the revocation stamp")
	}

	if _, err := store.Revoke(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"sess-aaaaaaaaaaaaaaaaaa", "sess-bbbbbbbbbbbbbbbbbb"} {
		if err := store.Save(ctx, testSession(id, "user-1", "secret-"+id, now), time.Hour); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	other := testSession("sess-cccccccccccccccccc", "user-2", "secret-c", now)
	if err := store.Save(ctx, other, time.Hour); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	if err := store.RevokeAllForUser(ctx, "user-1", now); err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}

	list, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	for _, sess := range list {
		if !sess.Revoked() {
			t.Fatalf("session %s still active", sess.ID)
		}
	}

	untouched, err := store.Get(ctx, other.ID)
	if err != nil {
		t.Fatalf("Get other: %v", err)
	}
	if untouched.Revoked() {
		t.Fatal("other user's session must be untouched")
	}
}

func TestListForUserNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	oldSess := testSession("sess-aaaaaaaaaaaaaaaaaa", "user-1", "secret-a", now.Add(-time.Hour))
	oldSess.ExpiresAt = now.Add(time.Hour).Unix()
	newSess := testSession("sess-bbbbbbbbbbbbbbbbbb", "user-1", "secret-b", now)

	if err := store.Save(ctx, oldSess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, newSess, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != newSess.ID {
		t.Fatalf("first = %s, want newest", list[0].ID)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	sess := &Session{ID: "s", UserID: "u", UserAgent: string(long)}
	if _, err := Encode(sess); err == nil {
		t.Fatal("expected error for oversized user agent")
	}
}
