package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionState tracks where a session is in the sign-in lifecycle.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StatePending         SessionState = "pending"
	StateEnriched        SessionState = "enriched"
	StateRevoked         SessionState = "revoked"
)

// Claims mirrors user authorization state onto the session. RoleID is a
// UI hint only; authorization always re-resolves from the user id.
type Claims struct {
	RoleID      *int64    `json:"role_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	IssuedAt    time.Time `json:"issued_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	key        []byte
}

// Session holds per-request session data.
type Session struct {
	ID         string
	values     map[string]string
	userID     string
	state      SessionState
	claims     Claims
	previousID string
	isNew      bool
	dirty      bool
	destroyed  bool
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
	State  SessionState      `json:"state"`
	Claims Claims            `json:"claims"`
}

// NewSessionManager constructs a SessionManager. The cookie signing key is
// derived from secret.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		key:        DeriveKey(secret, KeyPurposeSessionCookie),
	}
}

// Load loads or creates a new session for request. Unsigned, tampered or
// expired cookies yield a fresh session with a server generated id.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}
	id, ok := sm.verify(cookie.Value)
	if !ok {
		return sm.newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, fmt.Errorf("%w: session load: %v", ErrTransientStore, err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return sm.newSession(), nil
	}

	sess := sm.newSession()
	sess.ID = id
	sess.values = stored.Values
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	sess.userID = stored.UserID
	sess.state = stored.State
	sess.claims = stored.Claims
	sess.isNew = false
	sess.dirty = false
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		keys := []string{sm.redisKey(sess.ID)}
		if sess.previousID != "" {
			keys = append(keys, sm.redisKey(sess.previousID))
		}
		if err := sm.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if sess.userID != "" {
			_ = sm.client.SRem(ctx, sm.userIndexKey(sess.userID), sess.ID).Err()
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	if sess.previousID != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.previousID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.previousID = ""
		sess.dirty = true
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sessionPayload{
			Values: sess.values,
			UserID: sess.userID,
			State:  sess.state,
			Claims: sess.claims,
		})
		if err != nil {
			return err
		}
		pipe := sm.client.TxPipeline()
		pipe.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl)
		if sess.userID != "" {
			pipe.SAdd(ctx, sm.userIndexKey(sess.userID), sess.ID)
			pipe.Expire(ctx, sm.userIndexKey(sess.userID), sm.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sm.sign(sess.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
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

// RevokeUser deletes every stored session belonging to userID and returns
// how many were removed.
func (sm *SessionManager) RevokeUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	indexKey := sm.userIndexKey(userID)
	ids, err := sm.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: session index: %v", ErrTransientStore, err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sm.redisKey(id))
	}
	keys = append(keys, indexKey)
	removed, err := sm.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: session revoke: %v", ErrTransientStore, err)
	}
	if removed > 0 {
		// the index key itself is not a session
		removed--
	}
	return int(removed), nil
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

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
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

// State reports the lifecycle state; a zero state reads as unauthenticated.
func (s *Session) State() SessionState {
	if s.state == "" {
		return StateUnauthenticated
	}
	return s.state
}

// SetState moves the session to state.
func (s *Session) SetState(state SessionState) {
	s.state = state
	s.dirty = true
}

// Claims returns the mirrored authorization claims.
func (s *Session) Claims() Claims {
	return s.claims
}

// SetClaims replaces the mirrored authorization claims.
func (s *Session) SetClaims(c Claims) {
	s.claims = c
	s.dirty = true
}

// Rotate assigns a fresh id; the old record is removed on commit.
func (s *Session) Rotate() {
	if s.previousID == "" && !s.isNew {
		s.previousID = s.ID
	}
	s.ID = newSessionID()
	s.dirty = true
}

// Destroyed reports whether the session is marked for deletion.
func (s *Session) Destroyed() bool {
	return s.destroyed
}

// Reset clears identity and values, leaving an unauthenticated session.
func (s *Session) Reset() {
	s.values = make(map[string]string)
	s.userID = ""
	s.state = StateUnauthenticated
	s.claims = Claims{}
	s.dirty = true
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:     newSessionID(),
		values: make(map[string]string),
		state:  StateUnauthenticated,
		isNew:  true,
		dirty:  true,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) userIndexKey(userID string) string {
	return "session:user:" + userID
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.key)
	_, _ = mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, _, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sm.sign(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

func newSessionID() string {
	return uuid.NewString()
}
