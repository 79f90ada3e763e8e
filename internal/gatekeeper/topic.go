package gatekeeper

import (
	"fmt"
	"strings"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// TopicAddress is a parsed broker address: <entityType>.<entityId>[.<sub>].
type TopicAddress struct {
	EntityType acl.SubjectType
	EntityID   string
	Subtopic   string
}

// ParseTopic parses a dot- or slash-segmented broker address. Addresses are
// case-sensitive; a leading separator is stripped before parsing. Fewer than
// two segments, or an unknown entity kind, is a malformed address.
func ParseTopic(address string) (TopicAddress, error) {
	normalized := strings.ReplaceAll(address, "/", ".")
	normalized = strings.TrimLeft(normalized, ".")
	segments := strings.Split(normalized, ".")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return TopicAddress{}, fmt.Errorf("%w: %q", common.ErrMalformedTopic, address)
	}
	entityType, err := acl.ParseSubjectType(segments[0])
	if err != nil {
		return TopicAddress{}, fmt.Errorf("%w: %q: %v", common.ErrMalformedTopic, address, err)
	}
	addr := TopicAddress{EntityType: entityType, EntityID: segments[1]}
	if len(segments) > 2 {
		addr.Subtopic = segments[2]
	}
	return addr, nil
}

// requiredPermission resolves the fixed routing table mapping a parsed
// address to the permission the ACL engine must confirm. superAdminOnly marks
// addresses decided by the global flag alone, bypassing the engine.
func requiredPermission(addr TopicAddress) (p permission.Permission, superAdminOnly bool) {
	switch addr.EntityType {
	case acl.TypeDevice:
		switch addr.Subtopic {
		case "events":
			return permission.Admin, false
		case "streams":
			return permission.Pull, false
		case "actions":
			return permission.Execute, false
		default:
			return permission.Subscribe, false
		}
	case acl.TypeStream:
		return permission.Pull, false
	case acl.TypeAction:
		return permission.Execute, false
	case acl.TypeTree:
		return permission.Tree, false
	case acl.TypeToken, acl.TypeUser:
		return 0, true
	default:
		// TypeApp has no broker-visible topics; fall through to an
		// explicit admin requirement rather than an implicit allow.
		return permission.Admin, false
	}
}
