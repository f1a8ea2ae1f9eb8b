// Package core carries the request-scoped plumbing shared by the gateway:
// context keys for identity and request correlation, and the cache contract
// every storage backend implements.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ClaimsKey is a custom context key type for storing decoded claims in context.
type ClaimsKey struct{}

// TokenKey is a custom context key type for storing the raw bearer token in context.
type TokenKey struct{}

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// WithToken returns a new context with the provided bearer token set.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey{}, token)
}

// TokenFromContext retrieves the bearer token from the context.
// Returns the token string if present, or an error if missing.
func TokenFromContext(ctx context.Context) (string, error) {
	token, ok := ctx.Value(TokenKey{}).(string)
	if !ok || token == "" {
		return "", fmt.Errorf("missing token")
	}
	return token, nil
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
// This allows for structured logging with request context.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	if reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}
