// Package authapi exposes the authorization core over HTTP: login, the
// remote authorization check used by the broker gatekeeper, subject
// registration and permission management. Every failure path maps to deny or
// an unauthorized/forbidden response; no error state ever grants access.
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
	"github.com/sensorgrid/sensorgrid-go/internal/dispatcher"
	"github.com/sensorgrid/sensorgrid-go/internal/permission"
	"github.com/sensorgrid/sensorgrid-go/internal/token"
	"github.com/sensorgrid/sensorgrid-go/internal/users"
)

// TokenStore is the server-side token persistence the service needs.
type TokenStore interface {
	Save(ctx context.Context, t token.Token) error
	FindByValue(ctx context.Context, value string) (token.Token, bool, error)
}

// Notifier publishes domain events for ACL mutations.
type Notifier interface {
	NotifyEntityEvent(op permission.Permission, entity dispatcher.Entity)
}

// Service wires the ACL engine, user directory and token machinery behind
// the HTTP API.
type Service struct {
	engine    *acl.Engine
	directory users.Directory
	tokens    *token.Service
	store     TokenStore
	notifier  Notifier
	log       *zap.Logger
}

// NewService builds the API service. notifier may be nil when no broker
// transport is configured.
func NewService(engine *acl.Engine, directory users.Directory, tokens *token.Service,
	store TokenStore, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		engine:    engine,
		directory: directory,
		tokens:    tokens,
		store:     store,
		notifier:  notifier,
		log:       log,
	}
}

// RegisterRoutes mounts all auth endpoints on the router. Login and the
// authorization check are open (the broker gatekeeper calls them before any
// identity exists); everything that mutates or reads ACL state requires a
// bearer token issued by this service.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/check", s.handleCheck)
	r.Post("/api/auth/sync", s.requireAuth(s.handleSync))
	r.Put("/api/auth/permissions", s.requireAuth(s.handlePermissions))
	r.Get("/api/auth/permissions", s.requireAuth(s.handleListPermissions))
}

// errTokenRejected marks a token that failed validation, was revoked, or
// belongs to a missing or disabled user. Always surfaced as 401, never with
// detail.
var errTokenRejected = errors.New("token rejected")

type contextKey int

const callerKey contextKey = iota

// userFromToken resolves a bearer token to an enabled platform user: the
// signature must verify, the server-side row must still exist and be
// unexpired (revocation), and the account must be enabled.
func (s *Service) userFromToken(ctx context.Context, value string) (*acl.User, error) {
	userID, err := s.tokens.Validate(value)
	if err != nil {
		return nil, errTokenRejected
	}
	row, found, err := s.store.FindByValue(ctx, value)
	if err != nil {
		return nil, err
	}
	if !found || (!row.ExpiresAt.IsZero() && row.ExpiresAt.Before(time.Now())) {
		return nil, errTokenRejected
	}
	user, found, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found || !user.IsEnabled() {
		return nil, errTokenRejected
	}
	return user, nil
}

// requireAuth authenticates the Authorization bearer token and stores the
// caller in the request context.
func (s *Service) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		value := strings.TrimPrefix(header, "Bearer ")
		if value == "" || value == header {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		caller, err := s.userFromToken(r.Context(), value)
		if err != nil {
			writeError(w, status(err), "authentication failed")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	}
}

func callerFrom(ctx context.Context) *acl.User {
	caller, _ := ctx.Value(callerKey).(*acl.User)
	return caller
}

type userBody struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Enabled    bool   `json:"enabled"`
	SuperAdmin bool   `json:"superAdmin"`
}

func toUserBody(u *acl.User) userBody {
	return userBody{
		ID:         u.ID.String(),
		Username:   u.Username,
		Enabled:    u.Enabled,
		SuperAdmin: u.SuperAdmin,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// status maps an internal error to an HTTP status, keeping storage failures
// distinguishable from plain rejections so clients can tell "deny" from
// "backend down" (both of which they must treat as deny).
func status(err error) int {
	if common.IsErrStoreUnavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type loginResponse struct {
	Token string   `json:"token,omitempty"`
	User  userBody `json:"user"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Token != "" {
		s.loginByToken(w, r, req.Token)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := s.directory.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.Debug("login rejected", zap.String("username", req.Username), zap.Error(err))
		writeError(w, status(err), "authentication failed")
		return
	}
	if !user.IsEnabled() {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	signed, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	err = s.store.Save(r.Context(), token.Token{
		ID:        uuid.New(),
		UserID:    user.ID,
		Value:     signed,
		Type:      token.TypeLogin,
		ExpiresAt: expires,
	})
	if err != nil {
		writeError(w, status(err), "token persistence failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: signed, User: toUserBody(user)})
}

func (s *Service) loginByToken(w http.ResponseWriter, r *http.Request, value string) {
	user, err := s.userFromToken(r.Context(), value)
	if err != nil {
		writeError(w, status(err), "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: value, User: toUserBody(user)})
}

type checkRequest struct {
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId,omitempty"`
	UserID      string `json:"userId"`
	Permission  string `json:"permission"`
}

type checkResponse struct {
	Result bool `json:"result"`
}

func (s *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	perm, err := permission.FromLabel(req.Permission)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subjectType, err := acl.ParseSubjectType(req.SubjectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}

	user, found, err := s.directory.FindByID(r.Context(), userID)
	if err != nil {
		writeError(w, status(err), "user lookup failed")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, checkResponse{Result: false})
		return
	}

	var subject *acl.Subject
	if req.SubjectID == "" {
		// type-level operation (create, list): no target instance
		subject = acl.NewSubject(subjectType, "", userID)
	} else {
		subject, err = s.engine.ResolveSubject(r.Context(), subjectType, req.SubjectID)
		if err != nil {
			writeError(w, status(err), "subject resolution failed")
			return
		}
	}

	result, err := s.engine.Check(r.Context(), subject, user, perm)
	if err != nil {
		s.log.Warn("authorization check failed",
			zap.String("subject", subject.Key()),
			zap.String("user", userID.String()),
			zap.Error(err))
		writeError(w, status(err), "authorization check failed")
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Result: result})
}

type syncRequest struct {
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	OwnerID     string `json:"ownerId"`
	ParentType  string `json:"parentType,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	subjectType, err := acl.ParseSubjectType(req.SubjectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed owner id")
		return
	}

	caller := callerFrom(r.Context())
	if !caller.IsAdmin() && caller.ID != ownerID {
		writeError(w, http.StatusForbidden, "cannot register subjects for another owner")
		return
	}

	subject := acl.NewSubject(subjectType, req.SubjectID, ownerID)
	if req.ParentType != "" && req.ParentID != "" {
		parentType, err := acl.ParseSubjectType(req.ParentType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subject.WithParent(acl.NewSubject(parentType, req.ParentID, ownerID))
	}

	if err := s.engine.Register(r.Context(), subject); err != nil {
		switch {
		case errors.Is(err, acl.ErrNewSubject), errors.Is(err, acl.ErrCyclicParent):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, status(err), "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type permissionsRequest struct {
	SubjectType string   `json:"subjectType"`
	SubjectID   string   `json:"subjectId"`
	UserID      string   `json:"userId"`
	Operation   string   `json:"operation"` // add | set | remove
	Permissions []string `json:"permissions"`
}

func (s *Service) handlePermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	subjectType, err := acl.ParseSubjectType(req.SubjectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	granteeID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}
	perms, err := permission.Parse(req.Permissions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := s.engine.ResolveSubject(r.Context(), subjectType, req.SubjectID)
	if err != nil {
		writeError(w, status(err), "subject resolution failed")
		return
	}

	// only callers holding admin on the subject may change its grants
	caller := callerFrom(r.Context())
	allowed, err := s.engine.Check(r.Context(), subject, caller, permission.Admin)
	if err != nil {
		writeError(w, status(err), "authorization check failed")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "admin permission required")
		return
	}

	switch req.Operation {
	case "add":
		err = s.engine.Add(r.Context(), subject, granteeID, perms)
	case "set":
		err = s.engine.Set(r.Context(), subject, granteeID, perms)
	case "remove":
		if len(perms) != 1 {
			writeError(w, http.StatusBadRequest, "remove takes exactly one permission")
			return
		}
		err = s.engine.Remove(r.Context(), subject, granteeID, perms[0])
	default:
		writeError(w, http.StatusBadRequest, "unknown operation "+req.Operation)
		return
	}
	if err != nil {
		writeError(w, status(err), "permission update failed")
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyEntityEvent(permission.Update, dispatcher.Entity{
			Type:    dispatcher.PayloadUser,
			ID:      granteeID.String(),
			OwnerID: granteeID.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Service) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	subjectType, err := acl.ParseSubjectType(r.URL.Query().Get("subjectType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	subjectID := r.URL.Query().Get("subjectId")
	if subjectID == "" {
		writeError(w, http.StatusBadRequest, "missing subjectId")
		return
	}
	granteeID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed user id")
		return
	}

	subject, err := s.engine.ResolveSubject(r.Context(), subjectType, subjectID)
	if err != nil {
		writeError(w, status(err), "subject resolution failed")
		return
	}

	// callers may list their own grants; anyone else's need admin
	caller := callerFrom(r.Context())
	if caller.ID != granteeID {
		allowed, err := s.engine.Check(r.Context(), subject, caller, permission.Admin)
		if err != nil {
			writeError(w, status(err), "authorization check failed")
			return
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "admin permission required")
			return
		}
	}

	perms, err := s.engine.List(r.Context(), subject, granteeID)
	if err != nil {
		writeError(w, status(err), "permission lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"permissions": permission.Labels(perms)})
}
