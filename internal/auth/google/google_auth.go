// Package google implements the OAuth2 authorization-code client for Google sign-in.
// It builds the browser authorization URL, exchanges a returned code for tokens exactly
// once and fetches the signed-in user's profile.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Tokens holds the provider token response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Client is the identity provider client used by the redirect strategy.
type Client struct {
	conf             *oauth2.Config
	userinfoEndpoint string
	httpClient       *http.Client

	mu        sync.Mutex
	exchanged map[string]struct{}
}

// NewClient builds a client from the google section of cfg. httpClient carries proxy and
// timeout settings; nil uses http.DefaultClient.
func NewClient(cfg config.GoogleOAuth, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthEndpoint,
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userinfoEndpoint: cfg.UserinfoEndpoint,
		httpClient:       httpClient,
		exchanged:        make(map[string]struct{}),
	}
}

// Validate reports a configuration error when the client id or secret is missing or
// still holds the example placeholder.
func (c *Client) Validate() error {
	var missing []string
	if c.conf.ClientID == "" || c.conf.ClientID == config.PlaceholderClientID {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.conf.ClientSecret == "" || c.conf.ClientSecret == config.PlaceholderClientSecret {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return auth.NewAuthenticationError(auth.ErrConfiguration, fmt.Errorf("missing %s", strings.Join(missing, " and ")))
	}
	return nil
}

// RedirectURI returns the redirect URI registered with the provider.
func (c *Client) RedirectURI() string { return c.conf.RedirectURL }

// AuthCodeURL returns the URL the browser is sent to. state is echoed back on the redirect.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens. A code is exchanged at most once:
// a second call with the same code fails with auth.ErrCodeReused without contacting
// the provider.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("empty authorization code"))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, used := c.exchanged[code]; used {
		c.mu.Unlock()
		return nil, auth.NewAuthenticationError(auth.ErrCodeReused, nil)
	}
	// The provider invalidates a code on its first use, successful or not.
	c.exchanged[code] = struct{}{}
	c.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return nil, providerError(err)
	}
	tokens := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	log.Debugf("google: exchanged authorization code (expires in %ds)", tokens.ExpiresIn)
	return tokens, nil
}

func providerError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		code := retrieveErr.ErrorCode
		if code == "" {
			code = gjson.GetBytes(retrieveErr.Body, "error").String()
		}
		if code == "" {
			code = http.StatusText(status)
		}
		return auth.NewAuthenticationError(auth.ErrProvider, auth.NewOAuthError(code, retrieveErr.ErrorDescription, status))
	}
	return auth.NewAuthenticationError(auth.ErrProvider, err)
}

// FetchProfile loads the signed-in user's profile with the access token. When the userinfo
// response omits email_verified, the claim is taken from the id token if it is a JWT.
func (c *Client) FetchProfile(ctx context.Context, tokens *Tokens) (auth.Profile, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return auth.Profile{}, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("missing access token"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoEndpoint, nil)
	if err != nil {
		return auth.Profile{}, fmt.Errorf("could not build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.Profile{}, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("user info request failed: %w", err))
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.Profile{}, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("read user info: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := gjson.GetBytes(body, "error").String()
		if code == "" {
			code = http.StatusText(resp.StatusCode)
		}
		return auth.Profile{}, auth.NewAuthenticationError(auth.ErrProvider,
			auth.NewOAuthError(code, gjson.GetBytes(body, "error_description").String(), resp.StatusCode))
	}

	doc := gjson.ParseBytes(body)
	profile := auth.Profile{
		UID:         doc.Get("sub").String(),
		Email:       doc.Get("email").String(),
		DisplayName: doc.Get("name").String(),
		PhotoURL:    doc.Get("picture").String(),
	}
	if profile.UID == "" {
		// v1 userinfo endpoints return "id" instead of "sub".
		profile.UID = doc.Get("id").String()
	}
	if profile.UID == "" {
		return auth.Profile{}, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("user info response has no subject"))
	}
	if verified := doc.Get("email_verified"); verified.Exists() {
		profile.EmailVerified = verified.Bool()
	} else if verified, ok := emailVerifiedClaim(tokens.IDToken); ok {
		profile.EmailVerified = verified
	}
	return profile, nil
}

// emailVerifiedClaim reads email_verified from an id token without verifying its
// signature. The token came straight from the token endpoint over TLS.
func emailVerifiedClaim(idToken string) (bool, bool) {
	if strings.Count(idToken, ".") != 2 {
		return false, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		log.Debugf("google: id token claims unreadable: %v", err)
		return false, false
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		return v, true
	case string:
		return v == "true", true
	default:
		return false, false
	}
}
