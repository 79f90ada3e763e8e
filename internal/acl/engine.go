package acl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
)

// maxParentDepth bounds inheritance walks. Parent chains are acyclic by
// construction, so exceeding the bound means corrupted data and is treated as
// a failure, never as an implicit allow.
const maxParentDepth = 32

// ErrCyclicParent is returned when a parent link would close a cycle.
var ErrCyclicParent = errors.New("parent link would create a cycle")

// ErrParentDepthExceeded marks a parent chain longer than maxParentDepth.
var ErrParentDepthExceeded = errors.New("parent chain exceeds maximum depth")

// ErrNewSubject is returned for persistence operations on a subject that has
// no persisted identity yet.
var ErrNewSubject = errors.New("subject has no persisted identity")

// Engine answers authorization questions for (subject, user, permission)
// triples and maintains per-subject ACE lists with parent-chain inheritance.
type Engine struct {
	store Store
	cache *Cache
	log   *zap.Logger

	// RegisterRetry bounds the retry loop around Register on transient
	// store failures.
	RegisterRetry common.RetryPolicy

	// locks serialize writes per subject, sharded by key hash so the lock
	// table stays a fixed size. A collision serializes two unrelated
	// subjects; no write path holds more than one lock, so shards cannot
	// deadlock.
	locks [64]sync.Mutex
}

// NewEngine builds an engine over the given store and cache.
func NewEngine(store Store, cache *Cache, log *zap.Logger) *Engine {
	return &Engine{
		store: store,
		cache: cache,
		log:   log,
		RegisterRetry: common.RetryPolicy{
			MaxAttempts: 3,
			Base:        500 * time.Millisecond,
			Multiplier:  3,
			Retryable:   common.IsErrStoreUnavailable,
		},
	}
}

var defaultGrants = map[SubjectType][]permission.Permission{
	TypeDevice: permission.All(),
	TypeStream: {permission.Read, permission.Push, permission.Pull, permission.Subscribe},
	TypeAction: {permission.Read, permission.Execute},
	TypeTree:   {permission.Read, permission.Tree},
	TypeApp:    {permission.Read, permission.Update, permission.Delete, permission.Admin},
	TypeToken:  {permission.Admin},
	TypeUser:   {permission.Admin},
}

// DefaultPermissions is the fallback grant set installed for the owner when a
// subject of the given type is first registered.
func DefaultPermissions(t SubjectType) []permission.Permission {
	grants := defaultGrants[t]
	out := make([]permission.Permission, len(grants))
	copy(out, grants)
	return out
}

func (e *Engine) lockSubject(key string) func() {
	mu := &e.locks[shardIndex(key, len(e.locks))]
	mu.Lock()
	return mu.Unlock
}

// Register installs the default permission set for the subject's owner and
// records the parent link, if any. It is idempotent: a subject that already
// has entries is left untouched. Transient store failures are retried up to
// three times with exponential backoff before the error is surfaced.
func (e *Engine) Register(ctx context.Context, subject *Subject) error {
	if subject == nil || subject.IsNew() {
		return ErrNewSubject
	}
	return e.RegisterRetry.Retry(ctx, func() error {
		return e.registerOnce(ctx, subject)
	})
}

func (e *Engine) registerOnce(ctx context.Context, subject *Subject) error {
	unlock := e.lockSubject(subject.Key())
	defer unlock()

	_, found, err := e.store.Entries(ctx, subject.Key())
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	entries := make([]Entry, 0, len(defaultGrants[subject.Type]))
	for _, p := range DefaultPermissions(subject.Type) {
		entries = append(entries, Entry{Grantee: subject.Owner, Permission: p, Granting: true})
	}
	if err := e.store.SaveEntries(ctx, subject.Key(), entries); err != nil {
		return err
	}
	if subject.Parent != nil {
		if err := e.linkParent(ctx, subject); err != nil {
			return err
		}
	}
	e.cache.Evict(subject.Key())
	e.log.Debug("registered subject",
		zap.String("subject", subject.Key()),
		zap.String("owner", subject.Owner.String()),
		zap.Int("grants", len(entries)))
	return nil
}

// linkParent records the inheritance edge after verifying it cannot close a
// cycle. Acyclicity is enforced here, at write time, by walking the new
// parent's ancestor chain.
func (e *Engine) linkParent(ctx context.Context, subject *Subject) error {
	ancestor := subject.Parent.Key()
	for depth := 0; ; depth++ {
		if depth > maxParentDepth {
			return ErrParentDepthExceeded
		}
		if ancestor == subject.Key() {
			return fmt.Errorf("%w: %s", ErrCyclicParent, subject.Key())
		}
		next, found, err := e.store.Parent(ctx, ancestor)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		ancestor = next
	}
	return e.store.SetParent(ctx, subject.Key(), subject.Parent.Key())
}

// Add unions the given grants into the subject's ACE list for the grantee and
// evicts the cache entry before returning.
func (e *Engine) Add(ctx context.Context, subject *Subject, grantee Sid, perms []permission.Permission) error {
	if subject == nil || subject.IsNew() {
		return ErrNewSubject
	}
	unlock := e.lockSubject(subject.Key())
	defer unlock()

	entries, _, err := e.store.Entries(ctx, subject.Key())
	if err != nil {
		return err
	}
	for _, p := range perms {
		if hasEntry(entries, grantee, p) {
			continue
		}
		entries = append(entries, Entry{Grantee: grantee, Permission: p, Granting: true})
	}
	if err := e.store.SaveEntries(ctx, subject.Key(), entries); err != nil {
		return err
	}
	e.cache.Evict(subject.Key())
	return nil
}

// Set replaces the full grant list for the (subject, grantee) pair. The input
// list is de-duplicated; entries for other grantees are preserved.
func (e *Engine) Set(ctx context.Context, subject *Subject, grantee Sid, perms []permission.Permission) error {
	if subject == nil || subject.IsNew() {
		return ErrNewSubject
	}
	unlock := e.lockSubject(subject.Key())
	defer unlock()

	entries, _, err := e.store.Entries(ctx, subject.Key())
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Grantee != grantee {
			kept = append(kept, entry)
		}
	}
	seen := map[permission.Permission]bool{}
	for _, p := range perms {
		if seen[p] {
			continue
		}
		seen[p] = true
		kept = append(kept, Entry{Grantee: grantee, Permission: p, Granting: true})
	}
	if err := e.store.SaveEntries(ctx, subject.Key(), kept); err != nil {
		return err
	}
	e.cache.Evict(subject.Key())
	return nil
}

// Remove deletes a single (grantee, permission) entry and evicts the cache.
func (e *Engine) Remove(ctx context.Context, subject *Subject, grantee Sid, p permission.Permission) error {
	if subject == nil || subject.IsNew() {
		return ErrNewSubject
	}
	unlock := e.lockSubject(subject.Key())
	defer unlock()

	if err := e.store.DeleteEntry(ctx, subject.Key(), grantee, p); err != nil {
		return err
	}
	e.cache.Evict(subject.Key())
	return nil
}

// List returns the grantee's own granting entries on the subject, without
// inherited ones.
func (e *Engine) List(ctx context.Context, subject *Subject, grantee Sid) ([]permission.Permission, error) {
	if subject == nil || subject.IsNew() {
		return nil, ErrNewSubject
	}
	entries, err := e.loadEntries(ctx, subject)
	if err != nil {
		return nil, err
	}
	var out []permission.Permission
	for _, entry := range entries {
		if entry.Grantee == grantee && entry.Granting {
			out = append(out, entry.Permission)
		}
	}
	return out, nil
}

// IsGranted is the raw single-subject lookup: no inheritance, no admin
// bypass. It is backed by the cache; a miss always falls through to the
// persistent store.
func (e *Engine) IsGranted(ctx context.Context, subject *Subject, grantee Sid, p permission.Permission) (bool, error) {
	entries, err := e.loadEntries(ctx, subject)
	if err != nil {
		return false, err
	}
	return hasGrant(entries, grantee, p), nil
}

// Check is the authorization decision used by every service boundary. It
// short-circuits in order: nil inputs deny; global super-admins are allowed;
// disabled users deny; ADMINISTRATION on the subject subsumes everything on
// it; a direct grant allows; otherwise the parent chain is walked so a grant
// on an ancestor authorizes the same operation on descendants. Any store
// failure denies and surfaces the error.
func (e *Engine) Check(ctx context.Context, subject *Subject, user *User, p permission.Permission) (bool, error) {
	if subject == nil || user == nil || p == 0 {
		return false, nil
	}
	if user.IsAdmin() {
		return true, nil
	}
	if !user.IsEnabled() {
		return false, nil
	}
	return e.checkSubject(ctx, subject, user, p, 0)
}

func (e *Engine) checkSubject(ctx context.Context, subject *Subject, user *User, p permission.Permission, depth int) (bool, error) {
	if depth > maxParentDepth {
		e.log.Error("parent chain exceeds maximum depth, denying",
			zap.String("subject", subject.Key()),
			zap.Int("depth", depth))
		return false, ErrParentDepthExceeded
	}
	if subject.IsNew() {
		// No persisted identity yet: resolve against the type's default
		// grant set instead of storage.
		for _, d := range DefaultPermissions(subject.Type) {
			if d == p || d == permission.Admin {
				return true, nil
			}
		}
		return false, nil
	}

	entries, err := e.loadEntries(ctx, subject)
	if err != nil {
		return false, err
	}
	if hasGrant(entries, user.ID, permission.Admin) {
		return true, nil
	}
	if hasGrant(entries, user.ID, p) {
		return true, nil
	}
	if subject.Parent != nil {
		return e.checkSubject(ctx, subject.Parent, user, p, depth+1)
	}
	return false, nil
}

// loadEntries reads the subject's ACE list through the cache. On a miss the
// persistent store is consulted and the whole parent chain is primed so the
// inheritance walk that typically follows is served from memory. The cache
// generation is snapshotted before each store read: a fill that lost the race
// with a concurrent write's eviction is dropped, so a revoked grant can never
// be resurrected by a slow reader.
func (e *Engine) loadEntries(ctx context.Context, subject *Subject) ([]Entry, error) {
	if entries, ok := e.cache.Get(subject.Key()); ok {
		return entries, nil
	}
	gen := e.cache.Generation(subject.Key())
	entries, found, err := e.store.Entries(ctx, subject.Key())
	if err != nil {
		return nil, err
	}
	if !found {
		// An unregistered subject has an empty ACL. Not cached: the
		// subject may be registered at any moment.
		return nil, nil
	}
	e.cache.Put(subject.Key(), entries, gen)
	for parent, depth := subject.Parent, 0; parent != nil && depth < maxParentDepth; parent, depth = parent.Parent, depth+1 {
		if _, ok := e.cache.Get(parent.Key()); ok {
			break
		}
		parentGen := e.cache.Generation(parent.Key())
		parentEntries, parentFound, err := e.store.Entries(ctx, parent.Key())
		if err != nil || !parentFound {
			break
		}
		e.cache.Put(parent.Key(), parentEntries, parentGen)
	}
	return entries, nil
}

func hasEntry(entries []Entry, grantee Sid, p permission.Permission) bool {
	for _, entry := range entries {
		if entry.Grantee == grantee && entry.Permission == p {
			return true
		}
	}
	return false
}

func hasGrant(entries []Entry, grantee Sid, p permission.Permission) bool {
	for _, entry := range entries {
		if entry.Grantee == grantee && entry.Permission == p && entry.Granting {
			return true
		}
	}
	return false
}
