package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/acl/persistence/inmemory"
	"github.com/sensorgrid/sensorgrid-go/internal/dispatcher"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
	"github.com/sensorgrid/sensorgrid-go/internal/token"
	"github.com/sensorgrid/sensorgrid-go/internal/users"
)

type fakeDirectory struct {
	byName map[string]*acl.User
	byID   map[uuid.UUID]*acl.User
	pwds   map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byName: map[string]*acl.User{},
		byID:   map[uuid.UUID]*acl.User{},
		pwds:   map[string]string{},
	}
}

func (d *fakeDirectory) addUser(username, password string, enabled, super bool) *acl.User {
	u := &acl.User{ID: uuid.New(), Username: username, Enabled: enabled, SuperAdmin: super}
	d.byName[username] = u
	d.byID[u.ID] = u
	d.pwds[username] = password
	return u
}

func (d *fakeDirectory) Authenticate(_ context.Context, username, password string) (*acl.User, error) {
	if u, ok := d.byName[username]; ok && d.pwds[username] == password {
		return u, nil
	}
	return nil, users.ErrBadCredentials
}

func (d *fakeDirectory) FindByID(_ context.Context, id uuid.UUID) (*acl.User, bool, error) {
	u, ok := d.byID[id]
	return u, ok, nil
}

type fakeTokenStore struct {
	mu   sync.Mutex
	rows map[string]token.Token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: map[string]token.Token{}}
}

func (s *fakeTokenStore) Save(_ context.Context, t token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[t.Value] = t
	return nil
}

func (s *fakeTokenStore) FindByValue(_ context.Context, value string) (token.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[value]
	return t, ok, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []dispatcher.Entity
}

func (f *fakeNotifier) NotifyEntityEvent(_ permission.Permission, e dispatcher.Entity) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

type fixture struct {
	router    *chi.Mux
	directory *fakeDirectory
	engine    *acl.Engine
	notifier  *fakeNotifier
	tokens    *token.Service
	store     *fakeTokenStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	directory := newFakeDirectory()
	engine := acl.NewEngine(inmemory.New(), acl.NewCache(), zap.NewNop())
	engine.RegisterRetry.Base = time.Millisecond
	notifier := &fakeNotifier{}
	tokens := &token.Service{Secret: []byte("test-secret"), Expiration: time.Hour}
	store := newFakeTokenStore()

	svc := NewService(engine, directory, tokens, store, notifier, zap.NewNop())
	router := chi.NewRouter()
	svc.RegisterRoutes(router)
	return &fixture{
		router:    router,
		directory: directory,
		engine:    engine,
		notifier:  notifier,
		tokens:    tokens,
		store:     store,
	}
}

// bearer issues and persists a valid session token for the user.
func (f *fixture) bearer(t *testing.T, user *acl.User) string {
	t.Helper()
	signed, expires, err := f.tokens.Issue(user.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(context.Background(), token.Token{
		ID: uuid.New(), UserID: user.ID, Value: signed,
		Type: token.TypeLogin, ExpiresAt: expires,
	}))
	return signed
}

func (f *fixture) doAs(t *testing.T, bearerToken, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return f.doAs(t, "", method, path, body)
}

func TestLoginWithCredentials(t *testing.T) {
	f := newFixture(t)
	f.directory.addUser("alice", "wonderland", true, false)

	rr := f.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": "wonderland"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Token string `json:"token"`
		User  struct {
			Username string `json:"username"`
			Enabled  bool   `json:"enabled"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	// the issued token is stored server-side as a login token
	row, found, _ := f.store.FindByValue(context.Background(), resp.Token)
	require.True(t, found)
	assert.Equal(t, token.TypeLogin, row.Type)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t)
	f.directory.addUser("alice", "wonderland", true, false)

	rr := f.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": "rabbit"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	f := newFixture(t)
	f.directory.addUser("mallory", "pw", false, false)

	rr := f.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "mallory", "password": "pw"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginByToken(t *testing.T) {
	f := newFixture(t)
	user := f.directory.addUser("alice", "wonderland", true, false)
	signed := f.bearer(t, user)

	rr := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"token": signed})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginByUnknownTokenRejected(t *testing.T) {
	f := newFixture(t)
	user := f.directory.addUser("alice", "wonderland", true, false)

	// validly signed but never stored: revoked or foreign
	signed, _, err := f.tokens.Issue(user.ID)
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"token": signed})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func registerDevice(t *testing.T, f *fixture, owner *acl.User, id string) {
	t.Helper()
	rr := f.doAs(t, f.bearer(t, owner), http.MethodPost, "/api/auth/sync", map[string]string{
		"subjectType": "device",
		"subjectId":   id,
		"ownerId":     owner.ID.String(),
	})
	require.Equal(t, http.StatusOK, rr.Code)
}

func checkResult(t *testing.T, f *fixture, body map[string]string) bool {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/auth/check", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Result bool `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Result
}

func TestCheckOwnerHasAdminAfterSync(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	assert.True(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": owner.ID.String(), "permission": "admin",
	}))
}

func TestCheckDeniesUnknownUser(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	assert.False(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": uuid.NewString(), "permission": "read",
	}))
}

func TestCheckRejectsUnknownPermissionLabel(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)

	rr := f.do(t, http.MethodPost, "/api/auth/check", map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": owner.ID.String(), "permission": "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckTypeLevelOperation(t *testing.T) {
	f := newFixture(t)
	user := f.directory.addUser("alice", "pw", true, false)

	// no subjectId: type-level create resolves against device defaults
	assert.True(t, checkResult(t, f, map[string]string{
		"subjectType": "device",
		"userId":      user.ID.String(), "permission": "create",
	}))
}

func TestCheckInheritsThroughSyncedParent(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	grantee := f.directory.addUser("bob", "pw", true, false)
	registerDevice(t, f, owner, "dev1")
	ownerToken := f.bearer(t, owner)

	rr := f.doAs(t, ownerToken, http.MethodPost, "/api/auth/sync", map[string]string{
		"subjectType": "stream", "subjectId": "ambient",
		"ownerId":    owner.ID.String(),
		"parentType": "device", "parentId": "dev1",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.doAs(t, ownerToken, http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "operation": "add",
		"permissions": []string{"pull"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	assert.True(t, checkResult(t, f, map[string]string{
		"subjectType": "stream", "subjectId": "ambient",
		"userId": grantee.ID.String(), "permission": "pull",
	}), "device grant authorizes the stream through inheritance")
}

func TestPermissionsAddRemoveAndNotify(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	grantee := f.directory.addUser("bob", "pw", true, false)
	registerDevice(t, f, owner, "dev1")
	ownerToken := f.bearer(t, owner)

	rr := f.doAs(t, ownerToken, http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "operation": "add",
		"permissions": []string{"read"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	assert.True(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "permission": "read",
	}))
	assert.False(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "permission": "update",
	}))

	rr = f.doAs(t, ownerToken, http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "operation": "remove",
		"permissions": []string{"read"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	assert.False(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": grantee.ID.String(), "permission": "read",
	}))

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, "user", f.notifier.events[0].Type)
	assert.Equal(t, grantee.ID.String(), f.notifier.events[0].ID)
}

func TestPermissionsRemoveRequiresExactlyOne(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	rr := f.doAs(t, f.bearer(t, owner), http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": owner.ID.String(), "operation": "remove",
		"permissions": []string{"read", "update"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPermissions(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	rr := f.doAs(t, f.bearer(t, owner), http.MethodGet,
		"/api/auth/permissions?subjectType=device&subjectId=dev1&userId="+owner.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.Permissions, "admin")
	assert.Contains(t, resp.Permissions, "pull")
}

func TestMutationEndpointsRequireBearer(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)

	rr := f.do(t, http.MethodPost, "/api/auth/sync", map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"ownerId": owner.ID.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "sync without a token")

	rr = f.do(t, http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": owner.ID.String(), "operation": "add",
		"permissions": []string{"read"},
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "mutation without a token")

	rr = f.doAs(t, "garbage", http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": owner.ID.String(), "operation": "add",
		"permissions": []string{"read"},
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "unverifiable token")
}

func TestPermissionsRequireAdminOnSubject(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	outsider := f.directory.addUser("bob", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	// bob holds nothing on dev1; granting himself read must be refused
	rr := f.doAs(t, f.bearer(t, outsider), http.MethodPut, "/api/auth/permissions", map[string]interface{}{
		"subjectType": "device", "subjectId": "dev1",
		"userId": outsider.ID.String(), "operation": "add",
		"permissions": []string{"read"},
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	assert.False(t, checkResult(t, f, map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"userId": outsider.ID.String(), "permission": "read",
	}), "refused grant never lands")
}

func TestSyncForbiddenForAnotherOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	outsider := f.directory.addUser("bob", "pw", true, false)

	rr := f.doAs(t, f.bearer(t, outsider), http.MethodPost, "/api/auth/sync", map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"ownerId": owner.ID.String(),
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// a super admin may register on anyone's behalf
	root := f.directory.addUser("root", "pw", true, true)
	rr = f.doAs(t, f.bearer(t, root), http.MethodPost, "/api/auth/sync", map[string]string{
		"subjectType": "device", "subjectId": "dev1",
		"ownerId": owner.ID.String(),
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListPermissionsOfOthersRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	owner := f.directory.addUser("alice", "pw", true, false)
	outsider := f.directory.addUser("bob", "pw", true, false)
	registerDevice(t, f, owner, "dev1")

	rr := f.doAs(t, f.bearer(t, outsider), http.MethodGet,
		"/api/auth/permissions?subjectType=device&subjectId=dev1&userId="+owner.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// the owner holds admin on the device and may inspect anyone's grants
	rr = f.doAs(t, f.bearer(t, owner), http.MethodGet,
		"/api/auth/permissions?subjectType=device&subjectId=dev1&userId="+outsider.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
