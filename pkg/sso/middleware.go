package sso

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/innogeotech/forest-gateway/pkg/core"
	"github.com/innogeotech/forest-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRequestProperty is the context key claims are attached under when
// the middleware options leave it unset.
const DefaultRequestProperty = "payload"

// ErrInvalidMiddlewareConfig is returned when the middleware cannot be
// constructed from its options.
var ErrInvalidMiddlewareConfig = errors.New("invalid middleware configuration")

// TokenExtractor pulls a bearer token out of an incoming request.
type TokenExtractor interface {
	Extract(r *http.Request) (string, bool)
}

// TokenExtractorFunc adapts a function to the TokenExtractor interface.
type TokenExtractorFunc func(r *http.Request) (string, bool)

// Extract implements TokenExtractor.
func (f TokenExtractorFunc) Extract(r *http.Request) (string, bool) {
	return f(r)
}

// headerExtractor reads `Authorization: <scheme> <token>`.
type headerExtractor struct {
	scheme string
}

func (e headerExtractor) Extract(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], e.scheme) {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RevocationChecker decides whether a verified token has been revoked.
// The middleware resolves the strategy at construction time: either the
// configured checker or a no-op that never revokes.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RevocationCheckerFunc adapts a function to the RevocationChecker interface.
type RevocationCheckerFunc func(ctx context.Context, token string) (bool, error)

// IsRevoked implements RevocationChecker.
func (f RevocationCheckerFunc) IsRevoked(ctx context.Context, token string) (bool, error) {
	return f(ctx, token)
}

type noRevocationCheck struct{}

func (noRevocationCheck) IsRevoked(context.Context, string) (bool, error) {
	return false, nil
}

// MiddlewareOptions configures the authentication middleware. All behavior
// is carried by this explicit object; nothing is registered process-wide.
type MiddlewareOptions struct {
	// Verifier validates bearer tokens. Required.
	Verifier *Verifier
	// RequestProperty is the gin context key the decoded claims are stored
	// under. Empty selects DefaultRequestProperty.
	RequestProperty string
	// CredentialsOptional lets requests without any token through
	// unauthenticated. A present-but-invalid token is always rejected.
	CredentialsOptional bool
	// Whitelist holds path regular expressions that bypass authentication.
	Whitelist []string
	// TokenExtractor overrides how the token is read from the request.
	// Nil selects the Authorization-header extractor.
	TokenExtractor TokenExtractor
	// RevocationChecker is consulted after verification. Nil disables the
	// revocation state.
	RevocationChecker RevocationChecker
	// RequiredGroup is the group name claims must carry. Empty disables the
	// permission state.
	RequiredGroup string
	// StoreTokenProperty, when set, stores the raw token under this gin
	// context key in addition to the decoded claims.
	StoreTokenProperty string
	// AuthScheme is the expected Authorization header scheme for the default
	// extractor. Empty selects "Bearer".
	AuthScheme string
}

// Middleware returns a gin handler enforcing the authentication pipeline:
// whitelist check, token extraction, verification, revocation check,
// permission check, context attach, delegate. Construction fails fast on an
// unusable configuration.
func Middleware(opts MiddlewareOptions) (gin.HandlerFunc, error) {
	if opts.Verifier == nil {
		return nil, errors.New("a verifier must be provided for correct work")
	}

	property := opts.RequestProperty
	if property == "" {
		property = DefaultRequestProperty
	}
	if strings.TrimSpace(property) == "" {
		return nil, ErrInvalidMiddlewareConfig
	}

	scheme := opts.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}

	extractor := opts.TokenExtractor
	if extractor == nil {
		extractor = headerExtractor{scheme: scheme}
	}

	var revocation RevocationChecker = noRevocationCheck{}
	if opts.RevocationChecker != nil {
		revocation = opts.RevocationChecker
	}

	whitelist := make([]*regexp.Regexp, 0, len(opts.Whitelist))
	for _, pattern := range opts.Whitelist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Join(ErrInvalidMiddlewareConfig, err)
		}
		whitelist = append(whitelist, re)
	}

	return func(c *gin.Context) {
		// Preflight requests skip authentication entirely.
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		for _, re := range whitelist {
			if re.MatchString(c.Request.URL.Path) {
				c.Next()
				return
			}
		}

		ctx := c.Request.Context()

		token, ok := extractor.Extract(c.Request)
		if !ok {
			if opts.CredentialsOptional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}

		claims, err := opts.Verifier.Verify(ctx, token)
		if err != nil {
			core.LoggerFromCtx(ctx).Warn("Token rejected",
				"token", logger.MaskToken(token), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		revoked, err := revocation.IsRevoked(ctx, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrTokenRevoked.Error()})
			return
		}

		if opts.RequiredGroup != "" && !claims.HasGroup(opts.RequiredGroup) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			return
		}

		c.Set(property, claims)
		if opts.StoreTokenProperty != "" {
			c.Set(opts.StoreTokenProperty, token)
		}
		c.Request = c.Request.WithContext(core.WithToken(ctx, token))

		addRequestAttributes(c.Request.Context(),
			attribute.String("sso.subject", claims.Subject),
			attribute.String("sso.token", logger.MaskToken(token)),
		)

		c.Next()
	}, nil
}

// addRequestAttributes sets attributes on the current trace span, and if no
// active span, logs the attributes via slog for observability fallback.
func addRequestAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	// SpanFromContext always returns a span; a noop one is not recording.
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		logAttrs := make([]slog.Attr, 0, len(attrs)+1)
		for _, attr := range attrs {
			logAttrs = append(logAttrs, slog.Any(string(attr.Key), attr.Value.AsInterface()))
		}
		logAttrs = append(logAttrs, slog.Bool("observability.fallback", true))
		slog.LogAttrs(ctx, slog.LevelDebug, "request attributes", logAttrs...)
		return
	}
	span.SetAttributes(attrs...)
}
