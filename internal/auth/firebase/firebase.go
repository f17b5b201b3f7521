// Package firebase wraps the Firebase Admin SDK for the two credential operations the
// login flow needs: minting a custom token from a provider profile and verifying an ID
// token handed over by the companion login page. It also exposes the realtime database
// client and an authorized HTTP client for the realtime database token store.
package firebase

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	fb "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Scopes required by the realtime database REST API.
var databaseScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// tokenIssuer is the subset of the Admin SDK auth client used here.
type tokenIssuer interface {
	CustomTokenWithClaims(ctx context.Context, uid string, devClaims map[string]interface{}) (string, error)
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
}

// App holds an initialized Firebase application.
type App struct {
	app    *fb.App
	auth   tokenIssuer
	cfg    config.FirebaseConfig
	sdkCfg config.SDKConfig
}

// NewApp initializes the Admin SDK from cfg. Without a credentials file the SDK falls
// back to application default credentials.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		resolved, err := util.ResolvePath(file)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsFile(resolved))
	}
	app, err := fb.NewApp(ctx, &fb.Config{
		ProjectID:   cfg.Firebase.ProjectID,
		DatabaseURL: cfg.Firebase.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialize app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: initialize auth client: %w", err)
	}
	return &App{app: app, auth: client, cfg: cfg.Firebase, sdkCfg: cfg.SDKConfig}, nil
}

// Mint issues a custom token for the profile. The profile fields travel as developer claims.
func (a *App) Mint(ctx context.Context, profile auth.Profile) (string, error) {
	if strings.TrimSpace(profile.UID) == "" {
		return "", fmt.Errorf("firebase: cannot mint a token without a uid")
	}
	claims := map[string]interface{}{
		"email":       profile.Email,
		"displayName": profile.DisplayName,
		"photoURL":    nil,
	}
	if profile.PhotoURL != "" {
		claims["photoURL"] = profile.PhotoURL
	}
	token, err := a.auth.CustomTokenWithClaims(ctx, profile.UID, claims)
	if err != nil {
		return "", fmt.Errorf("firebase: mint custom token: %w", err)
	}
	return token, nil
}

// Verify checks an ID token and returns the credential it identifies. The user record is
// preferred for the profile; when it cannot be read the token claims are used instead.
func (a *App) Verify(ctx context.Context, idToken string) (*auth.Credential, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("empty id token"))
	}
	token, err := a.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, auth.NewAuthenticationError(auth.ErrProvider, err)
	}
	cred := &auth.Credential{Token: idToken, Source: auth.SourceHandoff}
	user, err := a.auth.GetUser(ctx, token.UID)
	if err != nil || user == nil || user.UserInfo == nil {
		log.WithError(err).Debug("firebase: user lookup failed, using token claims")
		cred.Profile = profileFromClaims(token)
	} else {
		cred.Profile = auth.Profile{
			UID:           user.UID,
			Email:         user.Email,
			DisplayName:   user.DisplayName,
			PhotoURL:      user.PhotoURL,
			EmailVerified: user.EmailVerified,
		}
	}
	if !cred.Complete() {
		return nil, auth.NewAuthenticationError(auth.ErrProvider, fmt.Errorf("verified token has no uid"))
	}
	return cred, nil
}

func profileFromClaims(token *fbauth.Token) auth.Profile {
	str := func(key string) string {
		if v, ok := token.Claims[key].(string); ok {
			return v
		}
		return ""
	}
	verified, _ := token.Claims["email_verified"].(bool)
	return auth.Profile{
		UID:           token.UID,
		Email:         str("email"),
		DisplayName:   str("name"),
		PhotoURL:      str("picture"),
		EmailVerified: verified,
	}
}

// Database returns the realtime database client of the configured database URL.
func (a *App) Database(ctx context.Context) (*db.Client, error) {
	if a.app == nil {
		return nil, fmt.Errorf("firebase: app not initialized")
	}
	return a.app.Database(ctx)
}

// DatabaseHTTPClient returns an HTTP client authorized for realtime database REST calls.
// The client honours the configured proxy and carries no overall timeout, so it is
// suitable for streaming.
func (a *App) DatabaseHTTPClient(ctx context.Context) (*http.Client, error) {
	base := util.NewStreamingHTTPClient(&a.sdkCfg)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var creds *google.Credentials
	var err error
	if file := strings.TrimSpace(a.cfg.CredentialsFile); file != "" {
		creds, err = credentialsFromFile(ctx, file)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, databaseScopes...)
	}
	if err != nil {
		return nil, fmt.Errorf("firebase: load database credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}
