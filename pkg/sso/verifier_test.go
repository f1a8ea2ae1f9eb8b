package sso

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestVerifier(t *testing.T, opts VerifierOptions) (*Verifier, *stubIssuer, *signingKey) {
	t.Helper()

	stub := newStubIssuer(t)
	key := newSigningKey(t, "key-1")
	installKeys(t, stub, key)
	return NewVerifier(stub.issuer(), opts), stub, key
}

func TestVerifier_Verify(t *testing.T) {
	verifier, stub, key := newTestVerifier(t, VerifierOptions{Audience: "test-aud"})

	token := key.sign(t, tokenSpec{
		issuer:   stub.srv.URL,
		audience: "test-aud",
		subject:  "user-42",
		groups:   []Group{{Name: "forest"}},
	})

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-42")
	}
	if !claims.HasGroup("forest") {
		t.Error("HasGroup(forest) = false, want true")
	}
	if claims.HasGroup("tundra") {
		t.Error("HasGroup(tundra) = true, want false")
	}
}

func TestVerifier_Verify_AudienceFromUserinfo(t *testing.T) {
	// No configured audience: the verifier asks userinfo which audience the
	// token was minted for.
	verifier, stub, key := newTestVerifier(t, VerifierOptions{})

	token := key.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"})

	if _, err := verifier.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	stub.mu.Lock()
	calls := stub.userinfoCalls
	stub.mu.Unlock()
	if calls != 1 {
		t.Errorf("userinfo calls = %d, want 1", calls)
	}
}

func TestVerifier_Verify_Failures(t *testing.T) {
	verifier, stub, key := newTestVerifier(t, VerifierOptions{Audience: "test-aud"})
	stranger := newSigningKey(t, "key-1") // same kid, different key material

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{
			name:   "expired",
			token:  key.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud", expires: -time.Hour}),
			reason: "token is expired",
		},
		{
			name:   "issuer mismatch",
			token:  key.sign(t, tokenSpec{issuer: "https://rogue.example.com", audience: "test-aud"}),
			reason: "issuer mismatch",
		},
		{
			name:   "audience mismatch",
			token:  key.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "other-aud"}),
			reason: "audience mismatch",
		},
		{
			name:   "signature mismatch",
			token:  stranger.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"}),
			reason: "signature mismatch",
		},
		{
			name:   "malformed",
			token:  "not-a-jwt",
			reason: "token is malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			var invalid *InvalidTokenError
			if !errors.As(err, &invalid) {
				t.Fatalf("Verify() error = %v, want *InvalidTokenError", err)
			}
			if invalid.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", invalid.Reason, tt.reason)
			}
			if !strings.Contains(invalid.Error(), "invalid authorization token") {
				t.Errorf("Error() = %q, want the invalid-token prefix", invalid.Error())
			}
		})
	}
}

func TestVerifier_Verify_UnknownKidRefetchesOnce(t *testing.T) {
	verifier, stub, key := newTestVerifier(t, VerifierOptions{Audience: "test-aud"})
	ctx := context.Background()

	// Prime the key cache.
	token := key.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"})
	if _, err := verifier.Verify(ctx, token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	_, _, _, jwksBefore := stub.counts()

	// Rotate: publish a new key and sign with it. The cached set does not
	// know the kid, so the verifier refetches and then succeeds.
	rotated := newSigningKey(t, "key-2")
	installKeys(t, stub, key, rotated)

	token = rotated.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"})
	if _, err := verifier.Verify(ctx, token); err != nil {
		t.Fatalf("Verify() after rotation error = %v", err)
	}

	_, _, _, jwksAfter := stub.counts()
	if jwksAfter != jwksBefore+1 {
		t.Errorf("jwks fetches = %d, want %d", jwksAfter, jwksBefore+1)
	}

	// A kid the issuer never published costs exactly one more refetch.
	ghost := newSigningKey(t, "key-ghost")
	token = ghost.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"})
	if _, err := verifier.Verify(ctx, token); err == nil {
		t.Fatal("Verify() with unpublished kid succeeded")
	}

	_, _, _, jwksFinal := stub.counts()
	if jwksFinal != jwksAfter+1 {
		t.Errorf("jwks fetches = %d, want %d", jwksFinal, jwksAfter+1)
	}
}

func TestVerifier_Verify_RejectsUnexpectedAlgorithm(t *testing.T) {
	verifier, stub, _ := newTestVerifier(t, VerifierOptions{Audience: "test-aud"})

	// An HS256 token signed with a shared secret must never pass an RS256-only
	// verifier, regardless of what its header claims.
	claims := &DecodedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stub.srv.URL,
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"test-aud"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	forged.Header["kid"] = "key-1"
	token, err := forged.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("failed to sign forged token: %v", err)
	}

	var invalid *InvalidTokenError
	if _, err := verifier.Verify(context.Background(), token); !errors.As(err, &invalid) {
		t.Fatalf("Verify() error = %v, want *InvalidTokenError", err)
	}
}

func TestVerifier_Verify_MissingKid(t *testing.T) {
	verifier, stub, key := newTestVerifier(t, VerifierOptions{Audience: "test-aud"})

	claims := &DecodedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stub.srv.URL,
			Audience:  jwt.ClaimStrings{"test-aud"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	// No kid header.
	token, err := unsigned.SignedString(key.priv)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	var invalid *InvalidTokenError
	if _, err := verifier.Verify(context.Background(), token); !errors.As(err, &invalid) {
		t.Fatalf("Verify() error = %v, want *InvalidTokenError", err)
	}
}

func TestVerifier_Verify_AudienceLookupFailure(t *testing.T) {
	stub := newStubIssuer(t)
	key := newSigningKey(t, "key-1")
	installKeys(t, stub, key)
	verifier := NewVerifier(stub.issuer(), VerifierOptions{})

	stub.mu.Lock()
	stub.userinfoJSON = []byte(`not json`)
	stub.mu.Unlock()

	token := key.sign(t, tokenSpec{issuer: stub.srv.URL, audience: "test-aud"})

	_, err := verifier.Verify(context.Background(), token)
	var invalid *InvalidTokenError
	if !errors.As(err, &invalid) {
		t.Fatalf("Verify() error = %v, want *InvalidTokenError", err)
	}
	if invalid.Reason != "audience lookup failed" {
		t.Errorf("Reason = %q, want %q", invalid.Reason, "audience lookup failed")
	}
}
