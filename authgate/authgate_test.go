package authgate

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/one-zero-eight/printers/apperr"
	"github.com/one-zero-eight/printers/logger"
)

type fakeResolver map[string]string

func (f fakeResolver) ResolveTelegramID(_ context.Context, telegramID string) (string, error) {
	owner, ok := f[telegramID]
	if !ok {
		return "", fmt.Errorf("telegram id %s: %w", telegramID, apperr.ErrUnauthorized)
	}
	return owner, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.ERROR, t.TempDir(), 16)
}

func jwksHandler(pub *rsa.PublicKey, kid string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func mintToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newJWTGate(t *testing.T, key *rsa.PrivateKey) *Gate {
	t.Helper()
	srv := httptest.NewServer(jwksHandler(&key.PublicKey, "test-key"))
	t.Cleanup(srv.Close)
	keys := oidc.NewRemoteKeySet(context.Background(), srv.URL)
	return newForTest(keys, fakeResolver{"100": "owner-bot"}, "botsecret", testLogger(t))
}

func TestVerifyJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gate := newJWTGate(t, key)

	now := time.Now()
	token := mintToken(t, key, "test-key", jwt.MapClaims{
		"uid": "owner-a",
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	owner, err := gate.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if owner != "owner-a" {
		t.Fatalf("owner = %q, want owner-a", owner)
	}
}

func TestVerifyJWTExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gate := newJWTGate(t, key)

	token := mintToken(t, key, "test-key", jwt.MapClaims{
		"uid": "owner-a",
		"exp": time.Now().Add(-time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
	if _, err := gate.Verify(context.Background(), token); !apperr.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expired token: got %v, want unauthorized", err)
	}
}

func TestVerifyJWTWrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gate := newJWTGate(t, key)

	token := mintToken(t, other, "test-key", jwt.MapClaims{
		"uid": "owner-a",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := gate.Verify(context.Background(), token); !apperr.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("forged token: got %v, want unauthorized", err)
	}
}

func TestVerifyBotComposite(t *testing.T) {
	gate := newForTest(nil, fakeResolver{"100": "owner-b"}, "botsecret", testLogger(t))

	owner, err := gate.Verify(context.Background(), "100:botsecret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if owner != "owner-b" {
		t.Fatalf("owner = %q, want owner-b", owner)
	}

	if _, err := gate.Verify(context.Background(), "100:wrongsecret"); !apperr.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("wrong secret: got %v, want unauthorized", err)
	}
	if _, err := gate.Verify(context.Background(), "999:botsecret"); !apperr.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("unknown telegram id: got %v, want unauthorized", err)
	}
}

func TestVerifyNoCredentials(t *testing.T) {
	gate := newForTest(nil, fakeResolver{}, "botsecret", testLogger(t))
	_, err := gate.Verify(context.Background(), "  ")
	if !apperr.Is(err, ErrNoCredentials) {
		t.Fatalf("empty credential: got %v, want ErrNoCredentials", err)
	}
	if !apperr.Is(err, apperr.ErrUnauthorized) {
		t.Fatal("ErrNoCredentials must unwrap to unauthorized")
	}
}

// Distinct credential shapes for distinct users must resolve to distinct
// owners.
func TestOwnerIsolation(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := httptest.NewServer(jwksHandler(&key.PublicKey, "test-key"))
	t.Cleanup(srv.Close)
	keys := oidc.NewRemoteKeySet(context.Background(), srv.URL)
	gate := newForTest(keys, fakeResolver{"100": "owner-b"}, "botsecret", testLogger(t))

	token := mintToken(t, key, "test-key", jwt.MapClaims{
		"uid": "owner-a",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	a, err := gate.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify JWT: %v", err)
	}
	b, err := gate.Verify(context.Background(), "100:botsecret")
	if err != nil {
		t.Fatalf("Verify composite: %v", err)
	}
	if a == b {
		t.Fatalf("distinct users resolved to the same owner %q", a)
	}
}
