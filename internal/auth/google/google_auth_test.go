package google

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
)

type fakeProvider struct {
	tokenCalls    atomic.Int32
	userinfoCalls atomic.Int32
	tokenBody     string
	tokenStatus   int
	userinfoBody  string
	lastForm      url.Values
	lastAuth      string
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		f.tokenCalls.Add(1)
		_ = r.ParseForm()
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
		}
		_, _ = io.WriteString(w, f.tokenBody)
	case "/userinfo":
		f.userinfoCalls.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.userinfoBody)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(config.GoogleOAuth{
		ClientID:         "client-1",
		ClientSecret:     "secret-1",
		AuthEndpoint:     srv.URL + "/auth",
		TokenEndpoint:    srv.URL + "/token",
		UserinfoEndpoint: srv.URL + "/userinfo",
		RedirectURI:      "http://localhost:14500/oauth",
		Scopes:           []string{"profile", "email"},
	}, srv.Client())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		secret   string
		wantFail bool
	}{
		{"Configured", "id", "secret", false},
		{"MissingID", "", "secret", true},
		{"PlaceholderID", config.PlaceholderClientID, "secret", true},
		{"PlaceholderSecret", "id", config.PlaceholderClientSecret, true},
		{"Whitespace", "  ", "secret", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewClient(config.GoogleOAuth{ClientID: tt.id, ClientSecret: tt.secret}, nil).Validate()
			if tt.wantFail != (err != nil) {
				t.Fatalf("Validate() = %v, wantFail %v", err, tt.wantFail)
			}
			if err != nil && !errors.Is(err, auth.ErrConfiguration) {
				t.Fatalf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestAuthCodeURL(t *testing.T) {
	c := NewClient(config.GoogleOAuth{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthEndpoint: "https://accounts.example.com/o/oauth2/auth",
		RedirectURI:  "http://localhost:14500/oauth",
		Scopes:       []string{"profile", "email"},
	}, nil)
	u, err := url.Parse(c.AuthCodeURL("session 1/2"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":     "client-1",
		"redirect_uri":  "http://localhost:14500/oauth",
		"response_type": "code",
		"scope":         "profile email",
		"access_type":   "offline",
		"prompt":        "consent",
		"state":         "session 1/2",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Fatalf("%s = %q, want %q (url %s)", k, q.Get(k), v, u)
		}
	}
}

func TestExchangeAndFetchProfile(t *testing.T) {
	f := &fakeProvider{
		tokenBody:    `{"access_token":"at1","id_token":"idt1","expires_in":3600,"token_type":"Bearer"}`,
		userinfoBody: `{"sub":"g1","name":"G","email":"g@e.com","picture":"p"}`,
	}
	c := newTestClient(t, f)

	tokens, err := c.Exchange(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tokens.AccessToken != "at1" || tokens.IDToken != "idt1" || tokens.ExpiresIn != 3600 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	form := f.lastForm
	if form.Get("code") != "xyz" || form.Get("client_id") != "client-1" || form.Get("client_secret") != "secret-1" ||
		form.Get("grant_type") != "authorization_code" || form.Get("redirect_uri") != "http://localhost:14500/oauth" {
		t.Fatalf("unexpected exchange form %v", form)
	}

	profile, err := c.FetchProfile(context.Background(), tokens)
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	want := auth.Profile{UID: "g1", Email: "g@e.com", DisplayName: "G", PhotoURL: "p"}
	if profile != want {
		t.Fatalf("profile = %+v, want %+v", profile, want)
	}
	if f.lastAuth != "Bearer at1" {
		t.Fatalf("Authorization = %q", f.lastAuth)
	}
}

func TestExchangeRejectsReusedCode(t *testing.T) {
	f := &fakeProvider{tokenBody: `{"access_token":"at1","token_type":"Bearer"}`}
	c := newTestClient(t, f)
	if _, err := c.Exchange(context.Background(), "xyz"); err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	_, err := c.Exchange(context.Background(), "xyz")
	if !errors.Is(err, auth.ErrProvider) || !errors.Is(err, auth.ErrCodeReused) {
		t.Fatalf("expected a provider error for a reused code, got %v", err)
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Fatalf("token endpoint called %d times, want 1", got)
	}
}

func TestExchangeProviderError(t *testing.T) {
	f := &fakeProvider{
		tokenStatus: http.StatusBadRequest,
		tokenBody:   `{"error":"invalid_grant","error_description":"Bad Request"}`,
	}
	c := newTestClient(t, f)
	_, err := c.Exchange(context.Background(), "expired")
	if !errors.Is(err, auth.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var oauthErr *auth.OAuthError
	if !errors.As(err, &oauthErr) || oauthErr.Code != "invalid_grant" || oauthErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected wrapped OAuth error, got %v", err)
	}
}

func TestExchangeWithoutConfigurationMakesNoCall(t *testing.T) {
	f := &fakeProvider{}
	srv := httptest.NewServer(f)
	defer srv.Close()
	c := NewClient(config.GoogleOAuth{ClientID: config.PlaceholderClientID, TokenEndpoint: srv.URL + "/token"}, srv.Client())
	if _, err := c.Exchange(context.Background(), "xyz"); !errors.Is(err, auth.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if f.tokenCalls.Load() != 0 {
		t.Fatalf("no network call expected")
	}
}

func TestFetchProfileEmailVerifiedFromIDToken(t *testing.T) {
	f := &fakeProvider{userinfoBody: `{"sub":"g1","email":"g@e.com"}`}
	c := newTestClient(t, f)
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "g1", "email_verified": true}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	profile, err := c.FetchProfile(context.Background(), &Tokens{AccessToken: "at1", IDToken: idToken})
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if !profile.EmailVerified {
		t.Fatalf("email_verified claim not applied")
	}
}

func TestFetchProfileRequiresSubject(t *testing.T) {
	f := &fakeProvider{userinfoBody: `{"email":"g@e.com"}`}
	c := newTestClient(t, f)
	if _, err := c.FetchProfile(context.Background(), &Tokens{AccessToken: "at1"}); !errors.Is(err, auth.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
