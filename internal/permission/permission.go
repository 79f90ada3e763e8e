// Package permission defines the catalogue of operations protected by the
// access-control layer. Each permission carries a unique power-of-two mask so
// grant sets can be combined and compared as bitmasks.
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is a single protected operation.
type Permission int

const (
	Read      Permission = 1 << iota // 1
	Update                           // 2
	Create                           // 4
	Delete                           // 8
	Admin                            // 16
	Push                             // 32
	Pull                             // 64
	Subscribe                        // 128
	Execute                          // 256
	List                             // 512
	Tree                             // 1024
)

// ErrUnknownPermission is returned when a label does not name a permission.
var ErrUnknownPermission = errors.New("unknown permission")

var labels = map[Permission]string{
	Read:      "read",
	Update:    "update",
	Create:    "create",
	Delete:    "delete",
	Admin:     "admin",
	Push:      "push",
	Pull:      "pull",
	Subscribe: "subscribe",
	Execute:   "execute",
	List:      "list",
	Tree:      "tree",
}

var byLabel = func() map[string]Permission {
	m := make(map[string]Permission, len(labels)+1)
	for p, l := range labels {
		m[l] = p
	}
	// legacy alias, accepted on input but never emitted
	m["write"] = Update
	return m
}()

// All lists every permission in mask order.
func All() []Permission {
	return []Permission{Read, Update, Create, Delete, Admin, Push, Pull, Subscribe, Execute, List, Tree}
}

// String returns the lowercase wire label of the permission.
func (p Permission) String() string {
	if l, ok := labels[p]; ok {
		return l
	}
	return fmt.Sprintf("permission(%d)", int(p))
}

// Mask returns the bitmask value of the permission.
func (p Permission) Mask() int { return int(p) }

// FromLabel resolves a lowercase wire label to its permission.
func FromLabel(label string) (Permission, error) {
	p, ok := byLabel[strings.TrimSpace(label)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, label)
	}
	return p, nil
}

// Parse resolves a list of labels, failing fast on the first unknown one.
func Parse(ls []string) ([]Permission, error) {
	out := make([]Permission, 0, len(ls))
	for _, l := range ls {
		p, err := FromLabel(l)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Labels renders a permission list back to wire labels.
func Labels(ps []Permission) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}
