package sso

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// stubIssuer is an httptest-backed identity provider covering the endpoints
// the gateway talks to: token, revocation, userinfo and JWKS.
type stubIssuer struct {
	srv *httptest.Server

	mu            sync.Mutex
	exchangeCalls int
	refreshCalls  int
	revokeCalls   int
	jwksCalls     int
	userinfoCalls int
	lastGrant     map[string]string

	tokenResponse map[string]any
	tokenStatus   int
	revokeStatus  int
	jwksJSON      []byte
	userinfoJSON  []byte
}

func newStubIssuer(t *testing.T) *stubIssuer {
	t.Helper()

	s := &stubIssuer{
		tokenStatus:  http.StatusOK,
		revokeStatus: http.StatusOK,
		tokenResponse: map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
		},
		jwksJSON:     []byte(`{"keys":[]}`),
		userinfoJSON: []byte(`{"sub":"user-1","aud":"test-aud"}`),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		var grant map[string]string
		if err := json.NewDecoder(r.Body).Decode(&grant); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.lastGrant = grant
		switch grant["grant_type"] {
		case "refresh_token":
			s.refreshCalls++
		default:
			s.exchangeCalls++
		}
		status, response := s.tokenStatus, s.tokenResponse
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/oauth2/token/revoke", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.revokeCalls++
		status := s.revokeStatus
		s.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/oauth2/public_keys", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.jwksCalls++
		body := s.jwksJSON
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/oauth2/userinfo", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.userinfoCalls++
		body := s.userinfoJSON
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubIssuer) issuer() *Issuer {
	return NewIssuer(s.srv.URL, "test-client", "test-secret")
}

func (s *stubIssuer) setTokenError(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenResponse = map[string]any{"error": payload}
	s.tokenStatus = http.StatusBadRequest
}

func (s *stubIssuer) counts() (exchange, refresh, revoke, jwks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls, s.refreshCalls, s.revokeCalls, s.jwksCalls
}

func (s *stubIssuer) grant() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGrant
}

// signingKey is a test RSA key pair published through the stub's JWKS.
type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func newSigningKey(t *testing.T, kid string) *signingKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return &signingKey{kid: kid, priv: priv}
}

// install publishes the given keys as the stub issuer's JWKS.
func installKeys(t *testing.T, s *stubIssuer, keys ...*signingKey) {
	t.Helper()

	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.FromRaw(k.priv.Public())
		if err != nil {
			t.Fatalf("failed to build JWK: %v", err)
		}
		if err := pub.Set(jwk.KeyIDKey, k.kid); err != nil {
			t.Fatalf("failed to set kid: %v", err)
		}
		if err := set.AddKey(pub); err != nil {
			t.Fatalf("failed to add key to set: %v", err)
		}
	}

	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}

	s.mu.Lock()
	s.jwksJSON = body
	s.mu.Unlock()
}

// tokenSpec describes a token to sign for tests.
type tokenSpec struct {
	issuer   string
	audience string
	subject  string
	groups   []Group
	expires  time.Duration
	kid      string
}

// sign produces a signed JWT for the spec.
func (k *signingKey) sign(t *testing.T, spec tokenSpec) string {
	t.Helper()

	if spec.subject == "" {
		spec.subject = "user-1"
	}
	if spec.expires == 0 {
		spec.expires = time.Hour
	}
	kid := spec.kid
	if kid == "" {
		kid = k.kid
	}

	claims := &DecodedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    spec.issuer,
			Subject:   spec.subject,
			Audience:  jwt.ClaimStrings{spec.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(spec.expires)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Groups: spec.groups,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(k.priv)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
