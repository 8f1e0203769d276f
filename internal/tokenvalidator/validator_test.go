// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package tokenvalidator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meetmesh/gc/internal/jwks"
)

type fakeKeys struct {
	key jwks.Key
	ok  bool
	err error
}

func (f *fakeKeys) Get(ctx context.Context, kid string) (jwks.Key, bool, error) {
	return f.key, f.ok, f.err
}

type customClaims struct {
	Sub string `json:"sub"`
	Scp string `json:"scope"`
	Iss string `json:"iss"`
	jwt.RegisteredClaims
}

func signToken(t *testing.T, priv ed25519.PrivateKey, kid string, claims customClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestValidate_Success(t *testing.T) {
	pub, priv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	now := time.Now()
	token := signToken(t, priv, "k1", customClaims{
		Sub: "user-1",
		Scp: "user",
		Iss: "ac",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})

	claims, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" || claims.Scope != "user" || claims.Issuer != "ac" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidate_RejectsOversizedToken(t *testing.T) {
	keys := &fakeKeys{}
	v := New(keys, 5*time.Second)

	huge := strings.Repeat("a", maxTokenBytes+1)
	if _, err := v.Validate(context.Background(), huge); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsWrongAlgorithm(t *testing.T) {
	// HS256-signed token presented against an EdDSA-only validator must
	// fail even though the JWKS lookup and kid extraction both succeed.
	pub, _ := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString([]byte("some-secret-key-that-is-long-enough"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Validate(context.Background(), signed); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsUnknownKid(t *testing.T) {
	_, priv := newKeyPair(t)
	keys := &fakeKeys{ok: false}
	v := New(keys, 5*time.Second)

	token := signToken(t, priv, "missing-kid", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsJWKShapeMismatch(t *testing.T) {
	pub, priv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "RSA", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	token := signToken(t, priv, "k1", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsExpiredToken(t *testing.T) {
	pub, priv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	now := time.Now()
	token := signToken(t, priv, "k1", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsIatTooFarInFuture(t *testing.T) {
	pub, priv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	now := time.Now()
	token := signToken(t, priv, "k1", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_AllowsIatWithinClockSkew(t *testing.T) {
	pub, priv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 30*time.Second)

	now := time.Now()
	token := signToken(t, priv, "k1", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now.Add(10 * time.Second)),
		},
	})

	if _, err := v.Validate(context.Background(), token); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_RejectsBadSignature(t *testing.T) {
	pub, _ := newKeyPair(t)
	_, otherPriv := newKeyPair(t)
	keys := &fakeKeys{ok: true, key: jwks.Key{Kid: "k1", Kty: "OKP", Alg: "EdDSA", X: pub}}
	v := New(keys, 5*time.Second)

	// Signed with a different private key than the one published under k1.
	token := signToken(t, otherPriv, "k1", customClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestValidate_RejectsMalformedToken(t *testing.T) {
	keys := &fakeKeys{}
	v := New(keys, 5*time.Second)

	cases := []string{"", "not-a-jwt", ".nodata", "abc"}
	for _, c := range cases {
		if _, err := v.Validate(context.Background(), c); !errors.Is(err, ErrInvalidOrExpired) {
			t.Errorf("token %q: err = %v, want ErrInvalidOrExpired", c, err)
		}
	}
}
