// Package auth defines the identity types delivered by a login session and the error
// taxonomy shared by the provider client, the token store and the session coordinator.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moneymoves/desklogin/internal/misc"
	log "github.com/sirupsen/logrus"
)

// Credential sources.
const (
	SourceRedirect = "redirect"
	SourceHandoff  = "handoff"
	SourceMock     = "mock"
)

// Profile is the denormalized identity snapshot carried by a credential and by a session record.
type Profile struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL"`
	EmailVerified bool   `json:"emailVerified"`
}

// MarshalJSON encodes an empty PhotoURL as null.
func (p Profile) MarshalJSON() ([]byte, error) {
	type wire struct {
		UID           string  `json:"uid"`
		Email         string  `json:"email"`
		DisplayName   string  `json:"displayName"`
		PhotoURL      *string `json:"photoURL"`
		EmailVerified bool    `json:"emailVerified"`
	}
	w := wire{UID: p.UID, Email: p.Email, DisplayName: p.DisplayName, EmailVerified: p.EmailVerified}
	if p.PhotoURL != "" {
		photo := p.PhotoURL
		w.PhotoURL = &photo
	}
	return json.Marshal(w)
}

// Credential is the resolved identity handed to the application shell.
// It is built once by the session coordinator and never mutated afterwards.
type Credential struct {
	Profile

	// Token is the verifiable session credential. For the redirect path it is a minted
	// custom token; for the handoff path it is the ID token the companion page wrote.
	Token string `json:"token"`

	// Unverified is set when no verifiable credential could be obtained and the
	// identity rests on the provider profile alone.
	Unverified bool `json:"unverified,omitempty"`

	// Source names the path that produced the credential.
	Source string `json:"source"`
}

// MarshalJSON flattens the embedded profile next to the credential fields.
func (c Credential) MarshalJSON() ([]byte, error) {
	profile, err := json.Marshal(c.Profile)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err = json.Unmarshal(profile, &out); err != nil {
		return nil, err
	}
	out["token"] = c.Token
	out["source"] = c.Source
	if c.Unverified {
		out["unverified"] = true
	}
	return json.Marshal(out)
}

// Complete reports whether the credential carries every field required for delivery.
func (c *Credential) Complete() bool {
	if c == nil {
		return false
	}
	if strings.TrimSpace(c.UID) == "" {
		return false
	}
	// A profile-only credential has no token by construction.
	return c.Unverified || strings.TrimSpace(c.Token) != ""
}

// MockProfile is the development identity substituted under the mock fallback policy.
func MockProfile() Profile {
	return Profile{
		UID:           "dev-mock-user-id",
		Email:         "dev@example.com",
		DisplayName:   "Development User",
		EmailVerified: true,
	}
}

// SaveTokenToFile serializes the credential to a JSON file, creating the parent directory.
func (c *Credential) SaveTokenToFile(authFilePath string) error {
	misc.LogSavingCredentials(authFilePath)
	if err := os.MkdirAll(filepath.Dir(authFilePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}

	f, err := os.Create(authFilePath)
	if err != nil {
		return fmt.Errorf("failed to create credential file: %w", err)
	}
	defer func() {
		if errClose := f.Close(); errClose != nil {
			log.Errorf("failed to close file: %v", errClose)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		return fmt.Errorf("failed to write credential to file: %w", err)
	}
	return nil
}
