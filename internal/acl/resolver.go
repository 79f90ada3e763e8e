package acl

import (
	"context"
	"fmt"
	"strings"
)

// ParseKey splits a persisted subject key back into its type and id.
func ParseKey(key string) (SubjectType, string, error) {
	t, id, ok := strings.Cut(key, ":")
	if !ok {
		return "", "", fmt.Errorf("malformed subject key %q", key)
	}
	st, err := ParseSubjectType(t)
	if err != nil {
		return "", "", err
	}
	return st, id, nil
}

// ResolveSubject rebuilds the subject view for a persisted entity, following
// parent links recorded in the store so inheritance walks work for callers
// that only hold an identifier (the remote authorization path). The walk is
// depth-bounded; a longer chain is a data-integrity failure.
func (e *Engine) ResolveSubject(ctx context.Context, t SubjectType, id string) (*Subject, error) {
	root := NewSubject(t, id, Sid{})
	current := root
	for depth := 0; ; depth++ {
		if depth > maxParentDepth {
			return nil, ErrParentDepthExceeded
		}
		parentKey, found, err := e.store.Parent(ctx, current.Key())
		if err != nil {
			return nil, err
		}
		if !found {
			return root, nil
		}
		pt, pid, err := ParseKey(parentKey)
		if err != nil {
			return nil, err
		}
		current.Parent = NewSubject(pt, pid, Sid{})
		current = current.Parent
	}
}
