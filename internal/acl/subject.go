// Package acl implements the hierarchical access-control engine. Every
// protected entity (device, stream, action, tree node, app, token, user) is
// represented to this package as a Subject; the engine never depends on
// concrete domain types.
package acl

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// Sid is a security identity. In this system it is always a user uuid; there
// are no role or group sids.
type Sid = uuid.UUID

// SubjectType is the kind of protected entity a Subject stands for.
type SubjectType string

const (
	TypeDevice SubjectType = "device"
	TypeStream SubjectType = "stream"
	TypeAction SubjectType = "action"
	TypeApp    SubjectType = "app"
	TypeToken  SubjectType = "token"
	TypeUser   SubjectType = "user"
	TypeTree   SubjectType = "tree"
)

var subjectTypes = map[SubjectType]bool{
	TypeDevice: true,
	TypeStream: true,
	TypeAction: true,
	TypeApp:    true,
	TypeToken:  true,
	TypeUser:   true,
	TypeTree:   true,
}

// ParseSubjectType resolves a wire label to a SubjectType.
func ParseSubjectType(s string) (SubjectType, error) {
	t := SubjectType(s)
	if !subjectTypes[t] {
		return "", fmt.Errorf("unknown subject type %q", s)
	}
	return t, nil
}

// Subject is a transient view over one protected entity instance. It is
// created whenever a permission check or mutation is requested and never
// persisted as its own record. Parent is a lookup-only pointer used for
// inheritance walks; it is never an ownership edge and must not form cycles.
type Subject struct {
	Type   SubjectType
	ID     string
	Owner  Sid
	Parent *Subject
}

// NewSubject builds a subject view for a persisted entity.
func NewSubject(t SubjectType, id string, owner Sid) *Subject {
	return &Subject{Type: t, ID: id, Owner: owner}
}

// WithParent links a parent subject for inheritance and returns the subject.
func (s *Subject) WithParent(parent *Subject) *Subject {
	s.Parent = parent
	return s
}

// IsNew reports whether the entity behind the subject has no persisted
// identity yet. Such subjects cannot be cached or checked against storage;
// checks short-circuit to type defaults.
func (s *Subject) IsNew() bool { return s.ID == "" }

// Key is the subject's identity in the cache and the persistent store.
func (s *Subject) Key() string { return string(s.Type) + ":" + s.ID }

// Entry is one access-control entry: a (grantee, permission) grant or denial
// attached to a subject. A subject holds at most one entry per
// (grantee, permission) pair.
type Entry struct {
	Grantee    Sid
	Permission permission.Permission
	Granting   bool
}

// User is the engine's view of an authenticated platform user.
type User struct {
	ID         Sid
	Username   string
	Enabled    bool
	SuperAdmin bool
}

// IsAdmin reports whether the user carries the global super-admin flag, which
// bypasses every per-subject check.
func (u *User) IsAdmin() bool { return u != nil && u.SuperAdmin }

// IsEnabled reports whether the account is active.
func (u *User) IsEnabled() bool { return u != nil && u.Enabled }
