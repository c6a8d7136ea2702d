package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://issuer.example"
	testAudience = "authenticated"
)

type jwksFixture struct {
	server  *httptest.Server
	fetches atomic.Int64

	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	f := &jwksFixture{keys: make(map[string]*rsa.PrivateKey)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		type jwk struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		}
		doc := struct {
			Keys []jwk `json:"keys"`
		}{}
		for kid, key := range f.keys {
			pub := key.Public().(*rsa.PublicKey)
			doc.Keys = append(doc.Keys, jwk{
				Kid: kid,
				Kty: "RSA",
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) addKey(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.mu.Lock()
	f.keys[kid] = key
	f.mu.Unlock()
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims(subject string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": subject,
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func newTestVerifier(f *jwksFixture) *Verifier {
	return NewVerifier(Config{
		JWKSURL:  f.server.URL,
		Issuer:   testIssuer,
		Audience: testAudience,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	f := newJWKSFixture(t)
	key := f.addKey(t, "k1")
	v := newTestVerifier(f)

	subject, err := v.Verify(context.Background(), signToken(t, key, "k1", validClaims("user-123")))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "user-123" {
		t.Fatalf("subject = %q, want user-123", subject)
	}
}

func TestVerifyRejectionsAreUniform(t *testing.T) {
	f := newJWKSFixture(t)
	key := f.addKey(t, "k1")
	v := newTestVerifier(f)

	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	expired := validClaims("user-123")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims("user-123")
	wrongIssuer["iss"] = "https://other.example"
	wrongAudience := validClaims("user-123")
	wrongAudience["aud"] = "anon"
	noSubject := validClaims("")
	delete(noSubject, "sub")

	cases := []struct {
		name  string
		token string
	}{
		{"forged signature", signToken(t, stranger, "k1", validClaims("user-123"))},
		{"expired", signToken(t, key, "k1", expired)},
		{"wrong issuer", signToken(t, key, "k1", wrongIssuer)},
		{"wrong audience", signToken(t, key, "k1", wrongAudience)},
		{"missing subject", signToken(t, key, "k1", noSubject)},
		{"missing kid", func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-123"))
			signed, err := token.SignedString(key)
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}
			return signed
		}()},
		{"garbage", "not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestVerifyRefreshesOnUnknownKid(t *testing.T) {
	f := newJWKSFixture(t)
	oldKey := f.addKey(t, "k1")
	v := newTestVerifier(f)

	if _, err := v.Verify(context.Background(), signToken(t, oldKey, "k1", validClaims("user-123"))); err != nil {
		t.Fatalf("Verify with k1: %v", err)
	}
	fetchesBefore := f.fetches.Load()

	// Simulate provider rotation: a new key appears, tokens name its kid.
	newKey := f.addKey(t, "k2")
	subject, err := v.Verify(context.Background(), signToken(t, newKey, "k2", validClaims("user-456")))
	if err != nil {
		t.Fatalf("Verify with rotated key: %v", err)
	}
	if subject != "user-456" {
		t.Fatalf("subject = %q, want user-456", subject)
	}
	if got := f.fetches.Load(); got != fetchesBefore+1 {
		t.Fatalf("expected one refresh on kid miss, fetches went %d -> %d", fetchesBefore, got)
	}

	// Old tokens keep working; known keys are never invalidated.
	if _, err := v.Verify(context.Background(), signToken(t, oldKey, "k1", validClaims("user-123"))); err != nil {
		t.Fatalf("Verify with k1 after rotation: %v", err)
	}
}

func TestVerifyCachesKeysAcrossCalls(t *testing.T) {
	f := newJWKSFixture(t)
	key := f.addKey(t, "k1")
	v := newTestVerifier(f)

	token := signToken(t, key, "k1", validClaims("user-123"))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Verify(context.Background(), token); err != nil {
				t.Errorf("Verify: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.fetches.Load(); got != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", got)
	}
}

func TestVerifyFailsClosedWhenJWKSUnavailable(t *testing.T) {
	f := newJWKSFixture(t)
	key := f.addKey(t, "k1")
	v := newTestVerifier(f)
	f.server.Close()

	_, err := v.Verify(context.Background(), signToken(t, key, "k1", validClaims("user-123")))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer abc.def.ghi", "abc.def.ghi", true},
		{"empty header", "", "", false},
		{"no scheme", "abc.def.ghi", "", false},
		{"wrong scheme", "Basic abc", "", false},
		{"scheme only", "Bearer ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, ok := ExtractBearer(tc.header)
			if ok != tc.ok || token != tc.token {
				t.Fatalf("ExtractBearer(%q) = (%q, %v), want (%q, %v)", tc.header, token, ok, tc.token, tc.ok)
			}
		})
	}
}
