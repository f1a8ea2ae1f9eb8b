package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/logger"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Issuer endpoint paths, relative to the issuer base URL.
const (
	authorizePath  = "/oauth2/authorize"
	tokenPath      = "/oauth2/token"
	publicKeysPath = "/oauth2/public_keys"
	userInfoPath   = "/oauth2/userinfo"
	revocationPath = "/oauth2/token/revoke"
)

const requestTimeout = 10 * time.Second

// TokenPair is the issuer's response to a token exchange or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo is the subset of the issuer's userinfo response the gateway reads.
type UserInfo struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Issuer is an HTTP client for the upstream identity provider. It covers the
// relying-party legs of the protocol: authorization URL construction, code
// exchange, refresh, revocation, userinfo and JWKS retrieval.
type Issuer struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewIssuer creates an issuer client for the given base URL. The client
// secret is only used by the revocation endpoint.
func NewIssuer(baseURL, clientID, clientSecret string) *Issuer {
	return &Issuer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// BaseURL returns the issuer base URL, which doubles as the expected `iss` claim.
func (i *Issuer) BaseURL() string {
	return i.baseURL
}

// AuthorizeURL builds the browser redirect target starting the PKCE flow.
func (i *Issuer) AuthorizeURL(scope, redirectURI, codeChallenge, state string) (string, error) {
	u, err := url.Parse(i.baseURL + authorizePath)
	if err != nil {
		return "", fmt.Errorf("failed to parse issuer authorize URL: %w", err)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", i.clientID)
	values.Set("scope", scope)
	values.Set("redirect_uri", redirectURI)
	values.Set("code_challenge_method", "S256")
	values.Set("code_challenge", codeChallenge)
	values.Set("state", state)

	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Exchange trades an authorization code plus its PKCE verifier for a token pair.
func (i *Issuer) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*TokenPair, error) {
	return i.requestToken(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     i.clientID,
		"redirect_uri":  redirectURI,
		"code":          code,
		"code_verifier": codeVerifier,
	})
}

// Refresh trades a refresh token for a new token pair.
func (i *Issuer) Refresh(ctx context.Context, refreshToken, redirectURI string) (*TokenPair, error) {
	return i.requestToken(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     i.clientID,
		"redirect_uri":  redirectURI,
		"refresh_token": refreshToken,
	})
}

// requestToken posts a grant request to the token endpoint and applies the
// issuer's response contract: a payload with access_token is success, a
// payload with an error field or a non-2xx status is an ExchangeError.
func (i *Issuer) requestToken(ctx context.Context, grant map[string]string) (*TokenPair, error) {
	jsonBody, err := json.Marshal(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+tokenPath, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response body: %w", err)
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}
	if pair.AccessToken == "" {
		return nil, &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}

	slog.Debug("Token grant succeeded",
		"grant_type", grant["grant_type"],
		"access_token", logger.MaskToken(pair.AccessToken),
		"expires_in", pair.ExpiresIn,
	)
	return &pair, nil
}

// Revoke asks the issuer to invalidate the given token. Unlike the token
// grants this endpoint takes form data and the client secret.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("client_id", i.clientID)
	form.Set("client_secret", i.clientSecret)
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+revocationPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call revocation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read revocation error response: %w", readErr)
		}
		return &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// UserInfo fetches the userinfo document for the given access token.
func (i *Issuer) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+userInfoPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read userinfo error response: %w", readErr)
		}
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return &info, nil
}

// FetchKeys downloads and parses the issuer's JWKS.
func (i *Issuer) FetchKeys(ctx context.Context) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, i.baseURL+publicKeysPath, jwk.WithHTTPClient(i.httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return set, nil
}
