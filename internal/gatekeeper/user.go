// Package gatekeeper authenticates broker connections and authorizes topic
// publish/subscribe requests. It never touches the ACL store directly: topic
// routing is resolved locally and the semantic decision is delegated to the
// authorization service, so the broker enforces exactly the same inheritance
// rules as the HTTP API.
package gatekeeper

import (
	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// RoleAdmin marks a local user as a broker administrator. Local admins bypass
// topic authorization entirely.
const RoleAdmin = "admin"

// BrokerUser is the ephemeral identity produced once per connection attempt.
// It is either local (statically configured admin/service account) or remote
// (a freshly authenticated platform user). It is never persisted.
type BrokerUser struct {
	Username string
	Local    bool
	roles    []string

	// User is the platform identity behind a remote login; nil for local
	// users, which have no uuid and cannot pass remote checks.
	User *acl.User
}

func newLocalUser(cfg common.LocalUserConfig) *BrokerUser {
	return &BrokerUser{Username: cfg.Username, Local: true, roles: cfg.Roles}
}

func newRemoteUser(u *acl.User) *BrokerUser {
	return &BrokerUser{Username: u.Username, User: u}
}

// HasRole reports whether a local role was configured for the user.
func (u *BrokerUser) HasRole(role string) bool {
	for _, r := range u.roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsLocalAdmin reports whether the user is a statically configured admin.
func (u *BrokerUser) IsLocalAdmin() bool {
	return u.Local && u.HasRole(RoleAdmin)
}

// IsSuperAdmin reports whether the user carries the platform super-admin
// flag.
func (u *BrokerUser) IsSuperAdmin() bool {
	return u.User != nil && u.User.SuperAdmin
}
