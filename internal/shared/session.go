package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data: the authenticated user, the active
// tenant and the capability map granted to the user inside that tenant.
type Session struct {
	ID           string
	values       map[string]string
	userID       string
	tenantID     string
	capabilities map[string]json.RawMessage
	isNew        bool
	dirty        bool
	destroyed    bool
}

type sessionPayload struct {
	Values       map[string]string          `json:"values"`
	UserID       string                     `json:"user_id"`
	TenantID     string                     `json:"tenant_id"`
	Capabilities map[string]json.RawMessage `json:"capabilities,omitempty"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load loads or creates a new session for request.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}

	sess := sm.newSession()
	sess.ID = cookie.Value
	if stored.Values != nil {
		sess.values = stored.Values
	}
	sess.userID = stored.UserID
	sess.tenantID = stored.TenantID
	sess.capabilities = stored.Capabilities
	sess.isNew = false
	sess.dirty = false
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if !sess.dirty && !sess.isNew {
		return nil
	}

	data, err := json.Marshal(sessionPayload{
		Values:       sess.values,
		UserID:       sess.userID,
		TenantID:     sess.tenantID,
		Capabilities: sess.capabilities,
	})
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	sess.dirty = false
	sess.isNew = false

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// SetUser associates the session with a user ID.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

// Ready reports whether an authenticated user is attached to the session.
func (s *Session) Ready() bool {
	return s != nil && s.userID != "" && !s.destroyed
}

// SetTenant switches the active tenant.
func (s *Session) SetTenant(id string) {
	s.tenantID = id
	s.dirty = true
}

// Tenant returns the active tenant ID, empty when none is selected.
func (s *Session) Tenant() string {
	if s == nil {
		return ""
	}
	return s.tenantID
}

// SetCapabilities replaces the capability map.
func (s *Session) SetCapabilities(caps Capabilities) {
	raw := make(map[string]json.RawMessage, len(caps))
	for k, v := range caps {
		if v {
			raw[string(k)] = json.RawMessage("true")
		} else {
			raw[string(k)] = json.RawMessage("false")
		}
	}
	s.capabilities = raw
	s.dirty = true
}

// Capabilities parses the stored capability map. Values written by other
// services are validated here, so a malformed entry surfaces as an error
// rather than as a silently granted permission.
func (s *Session) Capabilities() (Capabilities, error) {
	if s == nil || len(s.capabilities) == 0 {
		return Capabilities{}, nil
	}
	return ParseCapabilities(s.capabilities)
}

func (sm *SessionManager) newSession() *Session {
	return NewSession(uuid.NewString())
}

// NewSession returns an empty, unsaved session with the given id.
func NewSession(id string) *Session {
	return &Session{
		ID:     id,
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "crm:session:" + id
}
