package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/store"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name         string
		redirectURI  string
		overrides    Overrides
		wantRedirect string
		wantPolicy   string
		wantStore    string
		wantErr      bool
	}{
		{
			name:         "PortMovesDerivedRedirect",
			overrides:    Overrides{CallbackPort: 15500},
			wantRedirect: "http://localhost:15500/oauth",
			wantPolicy:   config.FallbackStrict,
			wantStore:    config.StoreNone,
		},
		{
			name:         "ExplicitRedirectKept",
			redirectURI:  "https://app.example.com/oauth",
			overrides:    Overrides{CallbackPort: 15500},
			wantRedirect: "https://app.example.com/oauth",
			wantPolicy:   config.FallbackStrict,
			wantStore:    config.StoreNone,
		},
		{
			name:         "PolicyAndStore",
			overrides:    Overrides{Fallback: "MOCK", StoreType: "memory"},
			wantRedirect: "http://localhost:14500/oauth",
			wantPolicy:   config.FallbackMock,
			wantStore:    config.StoreMemory,
		},
		{
			name:      "InvalidPolicy",
			overrides: Overrides{Fallback: "lenient"},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Google.RedirectURI = tt.redirectURI
			cfg.ApplyDefaults()

			err := ApplyOverrides(cfg, tt.overrides)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyOverrides: %v", err)
			}
			if cfg.Google.RedirectURI != tt.wantRedirect {
				t.Fatalf("RedirectURI = %q, want %q", cfg.Google.RedirectURI, tt.wantRedirect)
			}
			if cfg.FallbackPolicy != tt.wantPolicy || cfg.Store.Type != tt.wantStore {
				t.Fatalf("policy %q store %q", cfg.FallbackPolicy, cfg.Store.Type)
			}
		})
	}
}

func TestBuildServicesWithoutStore(t *testing.T) {
	cfg := defaultConfig(t)
	svc := BuildServices(context.Background(), cfg, &LoginOptions{NoBrowser: true})
	defer svc.Close(context.Background())

	if !store.IsUnavailable(svc.Store) {
		t.Fatalf("store type none should yield the unavailable stand-in, got %T", svc.Store)
	}
	if svc.Firebase != nil {
		t.Fatalf("Firebase must stay nil when unconfigured")
	}
	if svc.Listener.Port() != config.DefaultCallbackPort || svc.Listener.IsRunning() {
		t.Fatalf("listener should be built on the default port without starting")
	}
	if got := svc.Coordinator.Options().MaxPolls; got != config.DefaultMaxPolls {
		t.Fatalf("MaxPolls = %d", got)
	}
}

func TestBuildServicesMemoryStore(t *testing.T) {
	cfg := defaultConfig(t)
	if err := ApplyOverrides(cfg, Overrides{StoreType: config.StoreMemory}); err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	svc := BuildServices(context.Background(), cfg, nil)
	defer svc.Close(context.Background())
	if _, ok := svc.Store.(*store.MemoryStore); !ok {
		t.Fatalf("Store = %T", svc.Store)
	}
}

func TestStartSessionRejectsPlaceholderClient(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Google.ClientID = config.PlaceholderClientID
	cfg.Google.ClientSecret = config.PlaceholderClientSecret
	svc := BuildServices(context.Background(), cfg, &LoginOptions{NoBrowser: true})
	defer svc.Close(context.Background())

	_, err := svc.Coordinator.StartSession(context.Background())
	if err == nil {
		t.Fatalf("placeholder credentials must be rejected")
	}
	if svc.Listener.IsRunning() {
		t.Fatalf("configuration failures must not bind the callback port")
	}
}

func TestWriteCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credential.json")
	cred := &auth.Credential{Profile: auth.MockProfile(), Unverified: true, Source: auth.SourceMock}
	if err := writeCredential(cred, path); err != nil {
		t.Fatalf("writeCredential: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err = json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["uid"] != "dev-mock-user-id" || decoded["unverified"] != true {
		t.Fatalf("unexpected credential file %v", decoded)
	}
}
