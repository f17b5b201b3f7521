package store

import (
	"context"

	"github.com/moneymoves/desklogin/internal/auth"
)

// Unavailable stands in for a store that could not be reached or initialized.
// Every operation fails with auth.ErrStoreUnavailable.
type Unavailable struct {
	Cause error
}

func (u Unavailable) err() error {
	return auth.NewAuthenticationError(auth.ErrStoreUnavailable, u.Cause)
}

// Subscribe implements Adapter.
func (u Unavailable) Subscribe(context.Context, string, func(*Record)) (Unsubscribe, error) {
	return nil, u.err()
}

// ReadOnce implements Adapter.
func (u Unavailable) ReadOnce(context.Context, string) (*Record, error) {
	return nil, u.err()
}

// Delete implements Deleter.
func (u Unavailable) Delete(context.Context, string) error {
	return u.err()
}

// IsUnavailable reports whether adapter is the Unavailable stand-in.
func IsUnavailable(adapter Adapter) bool {
	switch adapter.(type) {
	case nil:
		return true
	case Unavailable, *Unavailable:
		return true
	default:
		return false
	}
}
