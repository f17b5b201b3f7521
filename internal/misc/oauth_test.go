package misc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateSessionIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateSessionID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("session id %q is not a uuid: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseOAuthCallback(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
		wantError string
		wantErr   bool
		wantNil   bool
	}{
		{name: "Empty", input: "  ", wantNil: true},
		{name: "FullURL", input: "http://localhost:14500/oauth?code=xyz&state=s1", wantCode: "xyz", wantState: "s1"},
		{name: "PathOnly", input: "/oauth?code=xyz", wantCode: "xyz"},
		{name: "QueryOnly", input: "?code=abc&state=s2", wantCode: "abc", wantState: "s2"},
		{name: "BareParams", input: "code=abc", wantCode: "abc"},
		{name: "Fragment", input: "http://localhost/oauth#code=frag&state=s3", wantCode: "frag", wantState: "s3"},
		{name: "ProviderError", input: "http://localhost/oauth?error=access_denied", wantError: "access_denied"},
		{name: "DescriptionOnly", input: "http://localhost/oauth?error_description=denied", wantError: "denied"},
		{name: "MissingCode", input: "http://localhost/oauth?state=s1", wantErr: true},
		{name: "Garbage", input: "nonsense", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOAuthCallback(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got.Code != tt.wantCode || got.State != tt.wantState || got.Error != tt.wantError {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestCopyConfigTemplate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.example.yaml")
	if err := os.WriteFile(src, []byte("callback-port: 14500\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	dst := filepath.Join(dir, "nested", "config.yaml")
	if err := CopyConfigTemplate(src, dst); err != nil {
		t.Fatalf("CopyConfigTemplate: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "callback-port: 14500\n" {
		t.Fatalf("copied content = %q, err = %v", data, err)
	}
	if err = CopyConfigTemplate(src, dst); err == nil {
		t.Fatalf("copying over an existing config must fail")
	}
}
