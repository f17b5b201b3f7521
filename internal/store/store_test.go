package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/tidwall/gjson"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantNil   bool
		wantErr   bool
		wantReady bool
		wantUID   string
	}{
		{name: "Empty", input: "", wantNil: true},
		{name: "Null", input: "null", wantNil: true},
		{name: "Scalar", input: `"text"`, wantNil: true},
		{name: "Malformed", input: `{"idToken":`, wantErr: true},
		{name: "NoToken", input: `{"verified":true,"user":{"uid":"u1","email":"a@b.com"}}`, wantUID: "u1"},
		{name: "Ready", input: `{"idToken":"tok1","verified":true,"created":"2026-10-19T10:00:00Z","user":{"uid":"u1","email":"a@b.com","displayName":"A","photoURL":null,"emailVerified":true}}`, wantReady: true, wantUID: "u1"},
		{name: "LegacyUserProfile", input: `{"idToken":"tok1","userProfile":{"uid":"u2"}}`, wantReady: true, wantUID: "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if rec != nil {
					t.Fatalf("expected nil record, got %+v", rec)
				}
				return
			}
			if rec.Ready() != tt.wantReady {
				t.Fatalf("Ready() = %v, want %v", rec.Ready(), tt.wantReady)
			}
			if rec.User.UID != tt.wantUID {
				t.Fatalf("uid = %q, want %q", rec.User.UID, tt.wantUID)
			}
		})
	}
}

func TestRecordWithoutTokenHasNoCredential(t *testing.T) {
	rec, _ := ParseRecord([]byte(`{"verified":true,"user":{"uid":"u1"}}`))
	if cred := rec.Credential(); cred != nil {
		t.Fatalf("record without idToken must not produce a credential, got %+v", cred)
	}
	rec, _ = ParseRecord([]byte(`{"idToken":"tok","user":{"email":"a@b.com"}}`))
	if cred := rec.Credential(); cred != nil {
		t.Fatalf("record without uid must not produce a credential, got %+v", cred)
	}
}

func TestRecordCredential(t *testing.T) {
	rec, _ := ParseRecord([]byte(`{"idToken":"tok1","user":{"uid":"u1","email":"a@b.com","displayName":"A","photoURL":null,"emailVerified":true}}`))
	cred := rec.Credential()
	if cred == nil {
		t.Fatalf("expected a credential")
	}
	want := auth.Profile{UID: "u1", Email: "a@b.com", DisplayName: "A", EmailVerified: true}
	if cred.Profile != want || cred.Token != "tok1" || cred.Source != auth.SourceHandoff || cred.Unverified {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestRecordMarshalJSON(t *testing.T) {
	rec := &Record{IDToken: "tok1", Verified: true, Created: "2026-10-19T10:00:00Z", User: auth.Profile{UID: "u1", Email: "a@b.com"}}
	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	doc := gjson.ParseBytes(data)
	if doc.Get("idToken").String() != "tok1" || doc.Get("user.uid").String() != "u1" {
		t.Fatalf("unexpected document %s", data)
	}
	if doc.Get("user.photoURL").Type != gjson.Null {
		t.Fatalf("empty photoURL must encode as null: %s", data)
	}
	if got := rec.CreatedAt(); !got.Equal(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("CreatedAt = %v", got)
	}
}

func TestSessionKeyAndCleanKey(t *testing.T) {
	if got := SessionKey("sessions", "abc123"); got != "sessions/abc123" {
		t.Fatalf("SessionKey = %q", got)
	}
	if got := SessionKey("/custom/", "x"); got != "custom/x" {
		t.Fatalf("SessionKey = %q", got)
	}
	for _, bad := range []string{"", "  ", "sessions/../etc", "a//b"} {
		if _, err := cleanKey(bad); err == nil {
			t.Fatalf("cleanKey(%q) should fail", bad)
		}
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	u := Unavailable{Cause: cause}
	ctx := context.Background()
	if _, err := u.Subscribe(ctx, "sessions/x", func(*Record) {}); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("Subscribe err = %v", err)
	}
	if _, err := u.ReadOnce(ctx, "sessions/x"); !errors.Is(err, auth.ErrStoreUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("ReadOnce err = %v", err)
	}
	if err := u.Delete(ctx, "sessions/x"); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("Delete err = %v", err)
	}
	if !IsUnavailable(u) || !IsUnavailable(nil) || IsUnavailable(NewMemoryStore()) {
		t.Fatalf("IsUnavailable misclassifies adapters")
	}
}

// collect returns an onChange callback and a channel fed with every delivery.
func collect() (func(*Record), <-chan *Record) {
	ch := make(chan *Record, 16)
	return func(r *Record) { ch <- r }, ch
}

func next(t *testing.T, ch <-chan *Record) *Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a delivery")
		return nil
	}
}

func nextReady(t *testing.T, ch <-chan *Record) *Record {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-ch:
			if rec.Ready() {
				return rec
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a ready record")
			return nil
		}
	}
}
