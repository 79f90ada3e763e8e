package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// AuthClient is the gatekeeper's view of the remote authorization service.
type AuthClient interface {
	// Login authenticates by credentials.
	Login(ctx context.Context, username, password string) (*acl.User, error)

	// LoginToken authenticates by bearer token.
	LoginToken(ctx context.Context, token string) (*acl.User, error)

	// IsAuthorized asks the ACL engine whether the user may perform the
	// permission on the subject. subjectID is empty for type-level
	// operations with no single target instance.
	IsAuthorized(ctx context.Context, subjectType, subjectID, userID, permission string) (bool, error)
}

// ErrAuthenticationFailed marks a rejected login. It is mapped to "no
// identity" by the gatekeeper, never to an implicit allow.
var ErrAuthenticationFailed = errors.New("authentication failed")

// HTTPAuthClient calls the authorization service over HTTP with a bounded
// timeout. A timeout or transport error is surfaced as an error and treated
// as deny by the caller.
type HTTPAuthClient struct {
	baseURL string
	client  *http.Client
}

var _ AuthClient = (*HTTPAuthClient)(nil)

// NewHTTPAuthClient builds a client against cfg.ServiceURL.
func NewHTTPAuthClient(cfg common.AuthConfig) *HTTPAuthClient {
	return &HTTPAuthClient{
		baseURL: cfg.ServiceURL,
		client:  &http.Client{Timeout: time.Duration(cfg.RemoteTimeoutSeconds) * time.Second},
	}
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type loginResponse struct {
	User struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		Enabled    bool   `json:"enabled"`
		SuperAdmin bool   `json:"superAdmin"`
	} `json:"user"`
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

func (c *HTTPAuthClient) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRemoteTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuthenticationFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth service returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPAuthClient) login(ctx context.Context, body loginRequest) (*acl.User, error) {
	var out loginResponse
	if err := c.post(ctx, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(out.User.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id", ErrAuthenticationFailed)
	}
	return &acl.User{
		ID:         id,
		Username:   out.User.Username,
		Enabled:    out.User.Enabled,
		SuperAdmin: out.User.SuperAdmin,
	}, nil
}

// Login implements AuthClient.
func (c *HTTPAuthClient) Login(ctx context.Context, username, password string) (*acl.User, error) {
	return c.login(ctx, loginRequest{Username: username, Password: password})
}

// LoginToken implements AuthClient.
func (c *HTTPAuthClient) LoginToken(ctx context.Context, token string) (*acl.User, error) {
	return c.login(ctx, loginRequest{Token: token})
}

// IsAuthorized implements AuthClient.
func (c *HTTPAuthClient) IsAuthorized(ctx context.Context, subjectType, subjectID, userID, permission string) (bool, error) {
	var out checkResponse
	err := c.post(ctx, "/api/auth/check", checkRequest{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		UserID:      userID,
		Permission:  permission,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Result, nil
}
