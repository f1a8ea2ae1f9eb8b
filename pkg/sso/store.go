package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/core"
	"github.com/innogeotech/forest-gateway/pkg/logger"
)

// Token lifecycle cache key formats. Both are part of the deployment
// contract and must stay stable for interop and debuggability.
const (
	tokenKeyPrefix   = "sso:token:"
	refreshKeySuffix = ":refresh"
)

func tokenKey(accessToken string) string {
	return tokenKeyPrefix + accessToken
}

func refreshKey(accessToken string) string {
	return tokenKey(accessToken) + refreshKeySuffix
}

// TokenStore tracks issued token pairs in the cache. Presence of the access
// token entry is the sole source of truth for "not yet revoked": absence
// means revoked or expired and callers treat both identically.
type TokenStore struct {
	cache    core.Cache
	issuer   *Issuer
	redirect string
}

// NewTokenStore creates a token lifecycle store on top of the given cache
// and issuer client.
func NewTokenStore(cache core.Cache, issuer *Issuer, redirectURI string) *TokenStore {
	return &TokenStore{
		cache:    cache,
		issuer:   issuer,
		redirect: redirectURI,
	}
}

// Issue records a freshly obtained token pair: the access token entry
// carries the issuer-reported expiry, the refresh entry lives until the
// pair is revoked or rotated.
func (s *TokenStore) Issue(ctx context.Context, accessToken, refreshToken string, expiresIn int64) error {
	logger := core.LoggerFromCtx(ctx)
	logger.Debug("Issuing token pair", "access_token", maskToken(accessToken), "expires_in", expiresIn)

	key := tokenKey(accessToken)
	if err := s.cache.Set(ctx, key, accessToken, time.Duration(expiresIn)*time.Second); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if refreshToken != "" {
		if err := s.cache.Set(ctx, refreshKey(accessToken), refreshToken, 0); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}

	// Post-write check: an unreadable entry would make the pair unusable.
	exists, err := s.cache.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("access token entry not persisted: %w", ErrUnknownKey)
	}
	return nil
}

// IsRevoked reports whether the access token is absent from the cache.
func (s *TokenStore) IsRevoked(ctx context.Context, accessToken string) (bool, error) {
	exists, err := s.cache.Exists(ctx, tokenKey(accessToken))
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// HasExpired reports whether the access token entry's TTL has run out.
// A missing entry is ErrUnknownKey: the caller must treat the token as
// revoked. A persistent entry never expires.
func (s *TokenStore) HasExpired(ctx context.Context, accessToken string) (bool, error) {
	ttl, err := s.cache.TTL(ctx, tokenKey(accessToken))
	if err != nil {
		return false, err
	}
	switch {
	case ttl == core.TTLMissing:
		return false, fmt.Errorf("key %s: %w", maskToken(accessToken), ErrUnknownKey)
	case ttl == core.TTLPersistent:
		return false, nil
	default:
		return ttl <= 0, nil
	}
}

// RefreshTokenFor returns the refresh token linked to an access token.
func (s *TokenStore) RefreshTokenFor(ctx context.Context, accessToken string) (string, error) {
	value, err := s.cache.Get(ctx, refreshKey(accessToken))
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return "", ErrUnknownKey
		}
		return "", err
	}
	return value, nil
}

// Revoke invalidates an access token with the issuer and removes it from the
// cache. Revoking a token that is already gone returns ErrAlreadyRevoked
// without calling the issuer. The issuer call and the cache deletion run in
// one uninterruptible section: after Revoke returns, every reader sees the
// token as revoked.
func (s *TokenStore) Revoke(ctx context.Context, accessToken string) error {
	key := tokenKey(accessToken)

	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return ErrAlreadyRevoked
		}
		return err
	}

	return Shielded(ctx, func(ctx context.Context) error {
		if err := s.issuer.Revoke(ctx, value); err != nil {
			return fmt.Errorf("could not revoke token with issuer: %w", err)
		}

		if err := s.deleteTokenEntries(ctx, accessToken); err != nil {
			return err
		}

		// Post-condition: the entry must be gone.
		exists, err := s.cache.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("token entry survived revocation: %w", ErrUnknownKey)
		}
		return nil
	})
}

// deleteTokenEntries removes the access entry and its refresh link. The
// issuer has already revoked the token at this point, so a failed delete is
// retried once before surfacing; the entry's natural TTL bounds any
// remaining inconsistency.
func (s *TokenStore) deleteTokenEntries(ctx context.Context, accessToken string) error {
	err := s.cache.Delete(ctx, tokenKey(accessToken))
	if err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		core.LoggerFromCtx(ctx).Error("Retrying token entry delete", "error", err)
		err = s.cache.Delete(ctx, tokenKey(accessToken))
	}
	if err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete revoked token entry: %w", err)
	}

	if err := s.cache.Delete(ctx, refreshKey(accessToken)); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete refresh token entry: %w", err)
	}
	return nil
}

// Refresh rotates an expired token pair. When the access token is still
// live it fails fast and returns the current pair without an issuer call.
// The refresh grant and the cache write run in one uninterruptible section.
func (s *TokenStore) Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error) {
	expired, err := s.HasExpired(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !expired {
		return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
	}

	var pair *TokenPair
	err = Shielded(ctx, func(ctx context.Context) error {
		fresh, err := s.issuer.Refresh(ctx, refreshToken, s.redirect)
		if err != nil {
			return err
		}
		if err := s.Issue(ctx, fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresIn); err != nil {
			return err
		}
		// The superseded pair's refresh link has no TTL and would otherwise
		// accumulate forever.
		if fresh.AccessToken != accessToken {
			if err := s.cache.Delete(ctx, refreshKey(accessToken)); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
				return fmt.Errorf("failed to delete superseded refresh entry: %w", err)
			}
		}
		pair = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func maskToken(token string) string {
	return logger.MaskToken(token)
}
