package firebase

import (
	"context"
	"errors"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/moneymoves/desklogin/internal/auth"
)

type fakeIssuer struct {
	mintErr    error
	verifyErr  error
	userErr    error
	uid        string
	claims     map[string]interface{}
	mintedUID  string
	mintClaims map[string]interface{}
}

func (f *fakeIssuer) CustomTokenWithClaims(_ context.Context, uid string, claims map[string]interface{}) (string, error) {
	if f.mintErr != nil {
		return "", f.mintErr
	}
	f.mintedUID, f.mintClaims = uid, claims
	return "custom-" + uid, nil
}

func (f *fakeIssuer) VerifyIDToken(_ context.Context, _ string) (*fbauth.Token, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &fbauth.Token{UID: f.uid, Claims: f.claims}, nil
}

func (f *fakeIssuer) GetUser(_ context.Context, uid string) (*fbauth.UserRecord, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &fbauth.UserRecord{
		UserInfo:      &fbauth.UserInfo{UID: uid, Email: "a@b.com", DisplayName: "A"},
		EmailVerified: true,
	}, nil
}

func TestMint(t *testing.T) {
	issuer := &fakeIssuer{}
	app := &App{auth: issuer}
	token, err := app.Mint(context.Background(), auth.Profile{UID: "g1", Email: "g@e.com", DisplayName: "G", PhotoURL: "p"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if token != "custom-g1" || issuer.mintedUID != "g1" {
		t.Fatalf("unexpected mint %q for %q", token, issuer.mintedUID)
	}
	if issuer.mintClaims["email"] != "g@e.com" || issuer.mintClaims["displayName"] != "G" || issuer.mintClaims["photoURL"] != "p" {
		t.Fatalf("unexpected claims %v", issuer.mintClaims)
	}
	if _, err = app.Mint(context.Background(), auth.Profile{}); err == nil {
		t.Fatalf("minting without uid must fail")
	}
	issuer.mintErr = errors.New("no service account")
	if _, err = app.Mint(context.Background(), auth.Profile{UID: "g1"}); err == nil {
		t.Fatalf("mint failure must be returned")
	}
}

func TestVerify(t *testing.T) {
	app := &App{auth: &fakeIssuer{uid: "u1"}}
	cred, err := app.Verify(context.Background(), "idtok")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := auth.Profile{UID: "u1", Email: "a@b.com", DisplayName: "A", EmailVerified: true}
	if cred.Profile != want || cred.Token != "idtok" || cred.Source != auth.SourceHandoff {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestVerifyFallsBackToClaims(t *testing.T) {
	app := &App{auth: &fakeIssuer{
		uid:     "u2",
		userErr: errors.New("permission denied"),
		claims:  map[string]interface{}{"email": "c@d.com", "name": "C", "picture": "pic", "email_verified": true},
	}}
	cred, err := app.Verify(context.Background(), "idtok")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := auth.Profile{UID: "u2", Email: "c@d.com", DisplayName: "C", PhotoURL: "pic", EmailVerified: true}
	if cred.Profile != want {
		t.Fatalf("profile = %+v, want %+v", cred.Profile, want)
	}
}

func TestVerifyRejectsInvalidToken(t *testing.T) {
	app := &App{auth: &fakeIssuer{verifyErr: errors.New("token expired")}}
	if _, err := app.Verify(context.Background(), "idtok"); !errors.Is(err, auth.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, err := app.Verify(context.Background(), " "); !errors.Is(err, auth.ErrProvider) {
		t.Fatalf("expected provider error for an empty token, got %v", err)
	}
}
