package sso

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/innogeotech/forest-gateway/pkg/core"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the gateway's login, callback, logout and refresh
// endpoints on top of the PKCE flow and the token lifecycle store.
type Handlers struct {
	flow             *Flow
	store            *TokenStore
	tokenRedirectURL string
}

// NewHandlers creates the SSO endpoint handlers. tokenRedirectURL is where
// the callback sends the browser once tokens are issued; the token pair is
// appended as query parameters.
func NewHandlers(flow *Flow, store *TokenStore, tokenRedirectURL string) *Handlers {
	return &Handlers{
		flow:             flow,
		store:            store,
		tokenRedirectURL: tokenRedirectURL,
	}
}

// RegisterRoutes wires the SSO endpoints into the router. The auth
// middleware guards logout and refresh; login and callback stay public.
func (h *Handlers) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.GET("/login", h.Login)
	router.GET("/callback", h.Callback)
	router.POST("/logout", auth, h.Logout)
	router.POST("/refresh", auth, h.Refresh)
}

// Login issues a state and code verifier for the PKCE flow and redirects
// the caller to the issuer's authorization endpoint.
func (h *Handlers) Login(c *gin.Context) {
	attempt, err := h.flow.BeginLogin(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, attempt.AuthorizationURL)
}

// Callback exchanges the issuer's authorization code for a token pair,
// records the pair, and redirects onward with the tokens attached. The
// exchange leg and the cache write run in one uninterruptible section.
func (h *Handlers) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PKCE code required"})
		return
	}

	var pair *TokenPair
	err := Shielded(c.Request.Context(), func(ctx context.Context) error {
		redeemed, err := h.flow.Redeem(ctx, state, code)
		if err != nil {
			return err
		}
		if err := h.store.Issue(ctx, redeemed.AccessToken, redeemed.RefreshToken, redeemed.ExpiresIn); err != nil {
			return err
		}
		pair = redeemed
		return nil
	})
	if err != nil {
		var exchangeErr *ExchangeError
		switch {
		case errors.Is(err, ErrUnknownState):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &exchangeErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErr.Body})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Redirect(http.StatusFound, h.tokenRedirect(pair))
}

// tokenRedirect appends the issued pair to the configured redirect target.
func (h *Handlers) tokenRedirect(pair *TokenPair) string {
	u, err := url.Parse(h.tokenRedirectURL)
	if err != nil {
		// Validated at startup; fall back to the raw target.
		return h.tokenRedirectURL
	}
	values := u.Query()
	values.Set("access_token", pair.AccessToken)
	values.Set("refresh_token", pair.RefreshToken)
	u.RawQuery = values.Encode()
	return u.String()
}

// Logout revokes the caller's token. A second logout with the same token is
// a distinct 409: gone already, nothing failed.
func (h *Handlers) Logout(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := core.TokenFromContext(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
		return
	}

	if err := h.store.Revoke(ctx, token); err != nil {
		var exchangeErr *ExchangeError
		switch {
		case errors.Is(err, ErrAlreadyRevoked):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &exchangeErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": exchangeErr.Body})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// Refresh rotates the caller's token pair when the access token has
// expired, returning the pair currently in force.
func (h *Handlers) Refresh(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := core.TokenFromContext(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
		return
	}

	refreshToken, err := h.store.RefreshTokenFor(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pair, err := h.store.Refresh(ctx, token, refreshToken)
	if err != nil {
		var exchangeErr *ExchangeError
		switch {
		case errors.Is(err, ErrUnknownKey):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.As(err, &exchangeErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": exchangeErr.Body})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
