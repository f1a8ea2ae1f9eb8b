package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"

	"golang.org/x/oauth2"
)

// codeVerifierKeyPrefix is the cache key prefix binding a login state to its
// PKCE code verifier. The format is part of the deployment contract.
const codeVerifierKeyPrefix = "sso:code_verifier:"

// defaultStateTTL bounds how long a login attempt may wait for its callback.
const defaultStateTTL = 10 * time.Minute

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// FlowOptions configures a PKCE login flow.
type FlowOptions struct {
	// Scope is the space-separated scope string sent to the issuer.
	Scope string
	// RedirectURI is where the issuer sends the browser after consent.
	RedirectURI string
	// StateTTL bounds the lifetime of an in-flight login attempt.
	// Zero selects the 10 minute default.
	StateTTL time.Duration
}

// Flow drives the relying-party side of the PKCE authorization-code flow:
// it mints state/verifier pairs, persists them for the callback, and redeems
// authorization codes against the issuer.
type Flow struct {
	issuer   *Issuer
	cache    core.Cache
	scope    string
	redirect string
	stateTTL time.Duration
}

// LoginAttempt describes one freshly started login.
type LoginAttempt struct {
	State            string
	CodeVerifier     string
	AuthorizationURL string
}

// NewFlow creates a PKCE flow backed by the given issuer and cache.
func NewFlow(issuer *Issuer, cache core.Cache, opts FlowOptions) *Flow {
	ttl := opts.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Flow{
		issuer:   issuer,
		cache:    cache,
		scope:    opts.Scope,
		redirect: opts.RedirectURI,
		stateTTL: ttl,
	}
}

// randomToken returns an opaque random string: 40 bytes of entropy,
// base64url-encoded, stripped to alphanumerics. Stripping keeps the value
// safe in URLs and cache keys while retaining well over 30 bytes of entropy.
func randomToken() (string, error) {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(buf)
	return nonAlphanumeric.ReplaceAllString(encoded, ""), nil
}

// codeChallenge derives the S256 challenge for a verifier:
// unpadded base64url of the verifier's SHA-256 digest.
func codeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// verifierKey returns the cache key holding the verifier for a state.
func verifierKey(state string) string {
	return codeVerifierKeyPrefix + state
}

// BeginLogin starts a login attempt: it generates independent state and
// code-verifier values, persists state → verifier with a bounded TTL and
// returns the issuer authorization URL carrying the derived challenge.
func (f *Flow) BeginLogin(ctx context.Context) (*LoginAttempt, error) {
	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	verifier, err := randomToken()
	if err != nil {
		return nil, err
	}

	key := verifierKey(state)
	if err := f.cache.Set(ctx, key, verifier, f.stateTTL); err != nil {
		return nil, fmt.Errorf("failed to persist code verifier: %w", err)
	}
	// Post-write check: a login attempt the callback cannot find is useless.
	exists, err := f.cache.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("code verifier for state %s not persisted", state)
	}

	authURL, err := f.issuer.AuthorizeURL(f.scope, f.redirect, codeChallenge(verifier), state)
	if err != nil {
		return nil, err
	}

	core.LoggerFromCtx(ctx).Debug("Login attempt started", "state", state)
	return &LoginAttempt{
		State:            state,
		CodeVerifier:     verifier,
		AuthorizationURL: authURL,
	}, nil
}

// Redeem exchanges an authorization code for a token pair. The state entry
// is deleted unconditionally after the lookup: a state is single-use even
// when the exchange with the issuer fails afterwards.
func (f *Flow) Redeem(ctx context.Context, state, code string) (*TokenPair, error) {
	key := verifierKey(state)
	verifier, err := f.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, ErrUnknownState
		}
		return nil, err
	}

	if err := f.cache.Delete(ctx, key); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to consume code verifier: %w", err)
	}

	pair, err := f.issuer.Exchange(ctx, code, verifier, f.redirect)
	if err != nil {
		return nil, err
	}
	return pair, nil
}
