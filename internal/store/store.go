// Package store abstracts the shared key-value store that carries session records from the
// companion login page to the desktop process. Each backend implements the same Adapter
// contract: a subscription that fires with the current value on attach and on every change,
// and a single read. A backend that cannot be reached is replaced by Unavailable.
package store

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Unsubscribe detaches a subscription. It is safe to call more than once.
type Unsubscribe func()

// Adapter is the contract every token store backend fulfils.
type Adapter interface {
	// Subscribe registers onChange for key. onChange receives the current record (nil when
	// the key is empty) shortly after attach and again after every mutation. Deliveries for
	// one subscription never overlap.
	Subscribe(ctx context.Context, key string, onChange func(*Record)) (Unsubscribe, error)
	// ReadOnce returns the record at key, or nil when the key is empty.
	ReadOnce(ctx context.Context, key string) (*Record, error)
}

// Deleter is implemented by backends that can remove a record.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Writer is implemented by backends that can write a record. The coordinator never writes;
// writers exist for the companion tooling and for tests.
type Writer interface {
	Put(ctx context.Context, key string, rec *Record) error
}

// Record is the session record written by the companion login page.
type Record struct {
	IDToken  string
	Verified bool
	Created  string
	User     auth.Profile
}

// Ready reports whether the record carries a token.
func (r *Record) Ready() bool {
	return r != nil && strings.TrimSpace(r.IDToken) != ""
}

// CreatedAt parses Created as RFC 3339. The zero time is returned when it is absent or malformed.
func (r *Record) CreatedAt() time.Time {
	if r == nil || r.Created == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.Created)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Credential converts a ready record into a handoff credential. It returns nil when the
// record lacks the token or the user id.
func (r *Record) Credential() *auth.Credential {
	if !r.Ready() {
		return nil
	}
	cred := &auth.Credential{Profile: r.User, Token: r.IDToken, Source: auth.SourceHandoff}
	if !cred.Complete() {
		return nil
	}
	return cred
}

// ParseRecord decodes a record document. Empty, null and non-object documents yield nil
// without error so that half-written values are simply ignored; malformed JSON is an error.
func ParseRecord(data []byte) (*Record, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("store: malformed record")
	}
	doc := gjson.Parse(trimmed)
	if !doc.IsObject() {
		return nil, nil
	}
	user := doc.Get("user")
	if !user.Exists() {
		user = doc.Get("userProfile")
	}
	return &Record{
		IDToken:  doc.Get("idToken").String(),
		Verified: doc.Get("verified").Bool(),
		Created:  firstString(doc, "created", "createdAt"),
		User: auth.Profile{
			UID:           user.Get("uid").String(),
			Email:         user.Get("email").String(),
			DisplayName:   user.Get("displayName").String(),
			PhotoURL:      user.Get("photoURL").String(),
			EmailVerified: user.Get("emailVerified").Bool(),
		},
	}, nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// MarshalJSON encodes the record in the layout the companion page writes.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	out := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, value)
		}
	}
	if r.IDToken != "" {
		set("idToken", r.IDToken)
	}
	set("verified", r.Verified)
	if r.Created != "" {
		set("created", r.Created)
	}
	set("user.uid", r.User.UID)
	set("user.email", r.User.Email)
	set("user.displayName", r.User.DisplayName)
	if r.User.PhotoURL != "" {
		set("user.photoURL", r.User.PhotoURL)
	} else {
		set("user.photoURL", nil)
	}
	set("user.emailVerified", r.User.EmailVerified)
	return out, err
}

// SessionKey returns the store key of a session: "<prefix>/<sessionID>".
func SessionKey(prefix, sessionID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return sessionID
	}
	return prefix + "/" + sessionID
}

// cleanKey normalizes a key and rejects keys that would escape the store namespace.
func cleanKey(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("store: empty key")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("store: invalid key %q", key)
		}
	}
	return path.Clean(trimmed), nil
}
