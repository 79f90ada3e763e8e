package gatekeeper

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// sessionTTL bounds how long an authenticated identity outlives its last
// authorized request. Brokers that never deliver disconnect callbacks would
// otherwise grow the session table without bound and keep stale identities
// alive forever. Active connections slide the deadline on every ACL check.
const sessionTTL = time.Hour

type session struct {
	user     *BrokerUser
	deadline time.Time
}

// Webhook exposes the gatekeeper as broker auth callbacks: the broker calls
// /broker/auth once per connection attempt and /broker/acl for every
// subscribe/publish. Authenticated identities are kept per client id until
// the broker disconnects them or their TTL lapses; every topic request is
// re-authorized.
type Webhook struct {
	gatekeeper *Gatekeeper
	log        *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session // client id -> authenticated identity
}

// NewWebhook builds the webhook surface over a gatekeeper.
func NewWebhook(gk *Gatekeeper, log *zap.Logger) *Webhook {
	return &Webhook{
		gatekeeper: gk,
		log:        log,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// RegisterRoutes mounts the broker callbacks on the router.
func (h *Webhook) RegisterRoutes(r chi.Router) {
	r.Post("/broker/auth", h.handleAuth)
	r.Post("/broker/acl", h.handleACL)
	r.Post("/broker/disconnect", h.handleDisconnect)
}

type authRequest struct {
	ClientID string `json:"clientid"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type aclRequest struct {
	ClientID string `json:"clientid"`
	Username string `json:"username"`
	Topic    string `json:"topic"`
	// Acc is the broker's access code: 1 read, 2 write, 3 readwrite,
	// 4 subscribe.
	Acc int `json:"acc"`
}

func (h *Webhook) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	user := h.gatekeeper.Authenticate(r.Context(), req.Username, req.Password)
	if user == nil {
		// refused with no further detail: do not leak what exists
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	now := h.now()
	h.mu.Lock()
	h.purgeExpiredLocked(now)
	// a reconnect under the same client id replaces the old identity
	h.sessions[req.ClientID] = &session{user: user, deadline: now.Add(sessionTTL)}
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (h *Webhook) handleACL(w http.ResponseWriter, r *http.Request) {
	var req aclRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	user := h.sessionUser(req.ClientID)

	check := CheckConsume
	if req.Acc == 2 || req.Acc == 3 {
		check = CheckSend
	}
	if !h.gatekeeper.Authorize(r.Context(), user, check, req.Topic) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Webhook) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	delete(h.sessions, req.ClientID)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// sessionUser resolves the authenticated identity for a client id, dropping
// the session when its TTL lapsed and sliding the deadline otherwise. An
// expired or unknown session yields nil, which the gatekeeper denies.
func (h *Webhook) sessionUser(clientID string) *BrokerUser {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[clientID]
	if !ok {
		return nil
	}
	if now.After(sess.deadline) {
		delete(h.sessions, clientID)
		return nil
	}
	sess.deadline = now.Add(sessionTTL)
	return sess.user
}

func (h *Webhook) purgeExpiredLocked(now time.Time) {
	for id, sess := range h.sessions {
		if now.After(sess.deadline) {
			delete(h.sessions, id)
		}
	}
}
