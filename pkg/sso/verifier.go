package sso

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// defaultKeyTTL is how long a fetched JWKS is trusted before the next
// verification refetches it. An unknown kid always forces a refetch,
// so rotation never waits for the TTL.
const defaultKeyTTL = 5 * time.Minute

// Group is one group membership claim as the issuer encodes it.
type Group struct {
	Name string `json:"name"`
}

// DecodedClaims is the verified payload of a bearer token. It lives for the
// duration of one request and is never persisted.
type DecodedClaims struct {
	jwt.RegisteredClaims
	Groups []Group `json:"groups,omitempty"`
}

// HasGroup reports whether the claims carry a group with the given name.
func (c *DecodedClaims) HasGroup(name string) bool {
	for _, group := range c.Groups {
		if group.Name == name {
			return true
		}
	}
	return false
}

// VerifierOptions configures JWT verification.
type VerifierOptions struct {
	// Algorithms is the allowed signing algorithm list. The algorithm is
	// configured, never inferred from the token. Defaults to RS256 only.
	Algorithms []string
	// Audience is the expected aud claim. When empty, the verifier asks the
	// issuer's userinfo endpoint for the token's audience before verifying.
	Audience string
	// KeyTTL overrides how long a fetched JWKS is reused. Zero selects the
	// 5 minute default.
	KeyTTL time.Duration
}

// Verifier validates bearer tokens against the issuer's rotating key set.
// The key set is cached copy-on-write: many requests read it concurrently,
// a refetch replaces it wholesale under the write lock.
type Verifier struct {
	issuer     *Issuer
	algorithms []string
	audience   string
	keyTTL     time.Duration

	mu        sync.RWMutex
	keys      jwk.Set
	fetchedAt time.Time
}

// NewVerifier creates a Verifier for tokens signed by the given issuer.
func NewVerifier(issuer *Issuer, opts VerifierOptions) *Verifier {
	algorithms := opts.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}
	keyTTL := opts.KeyTTL
	if keyTTL <= 0 {
		keyTTL = defaultKeyTTL
	}
	return &Verifier{
		issuer:     issuer,
		algorithms: algorithms,
		audience:   opts.Audience,
		keyTTL:     keyTTL,
	}
}

// keySet returns the cached JWKS, refetching when stale or when force is set.
func (v *Verifier) keySet(ctx context.Context, force bool) (jwk.Set, error) {
	v.mu.RLock()
	keys, fetchedAt := v.keys, v.fetchedAt
	v.mu.RUnlock()

	if !force && keys != nil && time.Since(fetchedAt) < v.keyTTL {
		return keys, nil
	}

	fresh, err := v.issuer.FetchKeys(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.keys = fresh
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	return fresh, nil
}

// keyFor resolves a verification key by kid. A kid missing from the cached
// set triggers exactly one refetch before failing, so key rotation works
// without serving stale-set errors, while a malicious kid costs at most one
// extra JWKS round trip.
func (v *Verifier) keyFor(ctx context.Context, kid string) (any, error) {
	set, err := v.keySet(ctx, false)
	if err != nil {
		return nil, err
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		set, err = v.keySet(ctx, true)
		if err != nil {
			return nil, err
		}
		key, found = set.LookupKeyID(kid)
	}
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to materialize verification key: %w", err)
	}
	return raw, nil
}

// Verify validates a bearer token: signature against the issuer's JWKS,
// allowed algorithms, issuer, audience and expiry. On success it returns the
// decoded claims; on any failure an *InvalidTokenError naming the reason.
func (v *Verifier) Verify(ctx context.Context, token string) (*DecodedClaims, error) {
	audience := v.audience
	if audience == "" {
		// Audience is not self-evident: ask the issuer who this token was
		// minted for before verifying against it.
		info, err := v.issuer.UserInfo(ctx, token)
		if err != nil {
			return nil, &InvalidTokenError{Reason: "audience lookup failed", Err: err}
		}
		audience = info.Audience
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keyFor(ctx, kid)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algorithms),
		jwt.WithIssuer(v.issuer.BaseURL()),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	claims := &DecodedClaims{}
	if _, err := parser.ParseWithClaims(token, claims, keyfunc); err != nil {
		return nil, &InvalidTokenError{Reason: verifyFailureReason(err), Err: err}
	}

	core.LoggerFromCtx(ctx).Debug("Token verified", "subject", claims.Subject)
	return claims, nil
}

// verifyFailureReason maps jwt parse errors onto the gateway's reason strings.
func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token is expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	default:
		return err.Error()
	}
}
