package acl

import (
	"context"

	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// Store is the persistent backend for access-control entries and parent
// links. Implementations report connectivity problems by wrapping
// common.ErrStoreUnavailable; lookups that match nothing return found=false
// rather than an error.
type Store interface {
	// Entries returns all ACEs attached to the subject key. found is false
	// when the subject has never been registered.
	Entries(ctx context.Context, key string) (entries []Entry, found bool, err error)

	// SaveEntries replaces the full ACE list for the subject key.
	SaveEntries(ctx context.Context, key string, entries []Entry) error

	// DeleteEntry removes one (grantee, permission) entry. Deleting an
	// absent entry is not an error.
	DeleteEntry(ctx context.Context, key string, grantee Sid, p permission.Permission) error

	// SetParent records the inheritance link for the subject key.
	SetParent(ctx context.Context, key, parentKey string) error

	// Parent returns the recorded parent key, found=false when the subject
	// has no parent link.
	Parent(ctx context.Context, key string) (parentKey string, found bool, err error)
}
