package gatekeeper

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// CheckType is the broker operation being authorized.
type CheckType string

const (
	CheckSend        CheckType = "SEND"
	CheckConsume     CheckType = "CONSUME"
	CheckCreateQueue CheckType = "CREATE_QUEUE"
	CheckDeleteQueue CheckType = "DELETE_QUEUE"
	CheckManage      CheckType = "MANAGE"
)

// Internal broker-management address prefixes: transient MQTT qos queues and
// broker advisory/management destinations.
var internalAddressPrefixes = []string{
	"$sys.",
	"activemq.",
	"mqtt.qos",
}

// Gatekeeper decides connection authentication and per-request topic
// authorization. It is safe for concurrent use: the local user table is
// read-only after construction and every decision is otherwise stateless.
type Gatekeeper struct {
	localUsers  map[string]common.LocalUserConfig
	client      AuthClient
	minUsername int
	log         *zap.Logger
}

// New builds a gatekeeper from the static local user table and a client to
// the authorization service.
func New(cfg common.BrokerConfig, auth common.AuthConfig, client AuthClient, log *zap.Logger) *Gatekeeper {
	locals := make(map[string]common.LocalUserConfig, len(cfg.LocalUsers))
	for _, u := range cfg.LocalUsers {
		locals[u.Username] = u
	}
	minLen := auth.MinUsernameLength
	if minLen <= 0 {
		minLen = 3
	}
	return &Gatekeeper{
		localUsers:  locals,
		client:      client,
		minUsername: minLen,
		log:         log,
	}
}

// Authenticate resolves a connection attempt to a broker user. Strategy
// order: a missing or too-short username means the password is an opaque
// bearer token; otherwise the static local table is consulted with an exact
// password match; otherwise credentials go to the identity provider. A nil
// result means authentication failure, never "authenticated with unknown
// identity".
func (g *Gatekeeper) Authenticate(ctx context.Context, username, password string) *BrokerUser {
	if len(strings.TrimSpace(username)) < g.minUsername {
		user, err := g.client.LoginToken(ctx, password)
		if err != nil {
			g.log.Debug("token authentication failed", zap.Error(err))
			return nil
		}
		return newRemoteUser(user)
	}

	if local, ok := g.localUsers[username]; ok && local.Password != "" && local.Password == password {
		return newLocalUser(local)
	}

	user, err := g.client.Login(ctx, username, password)
	if err != nil {
		g.log.Debug("remote authentication failed",
			zap.String("username", username), zap.Error(err))
		return nil
	}
	return newRemoteUser(user)
}

// Authorize decides one subscribe/publish/management request. Decisions are
// stateless per request; nothing beyond the authenticated identity is cached
// at the connection level. Every ambiguous or failed state denies.
func (g *Gatekeeper) Authorize(ctx context.Context, user *BrokerUser, check CheckType, address string) bool {
	if user == nil {
		return false
	}
	if user.IsLocalAdmin() {
		return true
	}
	if isInternalAddress(address) {
		// queue lifecycle and qos traffic is open; management is not
		return check != CheckManage
	}

	addr, err := ParseTopic(address)
	if err != nil {
		g.log.Warn("denied malformed topic address",
			zap.String("address", address), zap.Error(err))
		return false
	}

	required, superAdminOnly := requiredPermission(addr)
	if superAdminOnly {
		return user.IsSuperAdmin()
	}

	if user.User == nil {
		// local non-admin user: no platform identity to check against
		g.log.Warn("denied local user without platform identity",
			zap.String("username", user.Username), zap.String("address", address))
		return false
	}

	ok, err := g.client.IsAuthorized(ctx,
		string(addr.EntityType), addr.EntityID, user.User.ID.String(), required.String())
	if err != nil {
		g.log.Warn("authorization call failed, denying",
			zap.String("address", address),
			zap.String("username", user.Username),
			zap.Error(err))
		return false
	}
	return ok
}

func isInternalAddress(address string) bool {
	lowered := strings.ToLower(strings.TrimLeft(address, "./"))
	for _, prefix := range internalAddressPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}
