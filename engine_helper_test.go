package authkit_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/authkit"
	"github.com/halcyonlabs/authkit/memdir"
)

// recordMailer captures outbound mail so tests can pull verification and
// reset tokens out of the message bodies.
type recordMailer struct {
	mu   sync.Mutex
	msgs []authkit.Email
}

func (m *recordMailer) Send(_ context.Context, msg authkit.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *recordMailer) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// waitFor blocks until at least n messages were delivered and returns the
// nth. Delivery happens on the outbox worker, so a short poll is
// unavoidable.
func (m *recordMailer) waitFor(t *testing.T, n int) authkit.Email {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.msgs) >= n {
			msg := m.msgs[n-1]
			m.mu.Unlock()
			return msg
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("mail %d never arrived", n)
	return authkit.Email{}
}

// tokenFromMail extracts the token from a message body. Without a URL
// template configured the token sits on its own last line.
func tokenFromMail(t *testing.T, msg authkit.Email) string {
	t.Helper()

	body := strings.TrimSpace(msg.Body)
	lines := strings.Split(body, "\n")
	token := strings.TrimSpace(lines[len(lines)-1])
	if token == "" {
		t.Fatalf("no token in mail body %q", msg.Body)
	}
	return token
}

func testConfig(t *testing.T) authkit.Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	cfg := authkit.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Issuer = "authkit-test"
	cfg.TwoFactor.Issuer = "authkit-test"
	return cfg
}

type testEnv struct {
	engine *authkit.Engine
	redis  *miniredis.Miniredis
	dir    *memdir.Directory
	mail   *recordMailer
}

func newTestEnv(t *testing.T, cfg authkit.Config) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := memdir.New()
	mail := &recordMailer{}

	engine, err := authkit.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithMailer(mail).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, redis: mr, dir: dir, mail: mail}
}

// registerVerified runs the full register-then-verify flow and returns
// the user ready for login.
func (env *testEnv) registerVerified(t *testing.T, name, email, password string) authkit.User {
	t.Helper()
	ctx := context.Background()

	before := env.mail.total()
	user, err := env.engine.Register(ctx, name, email, password)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token := tokenFromMail(t, env.mail.waitFor(t, before+1))
	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	return user
}

func (env *testEnv) login(t *testing.T, email, password string) *authkit.TokenPair {
	t.Helper()

	result, err := env.engine.Login(context.Background(), authkit.LoginCredentials{
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("Login returned no tokens")
	}
	return result.Tokens
}
