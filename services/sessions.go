package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authapi/crypto"
	"authapi/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	errSessionExpired  = errors.New("session expired")
)

const (
	sessionKeyPrefix      = "session:"
	refreshKeyPrefix      = "refresh:"
	userSessionsKeyPrefix = "user_sessions:"
	refreshTokenBytes     = 32
)

// SessionData is the encrypted payload stored per session.
type SessionData struct {
	ID          string    `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	RefreshHash string    `json:"refresh_hash"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in Redis. A session has a fixed absolute
// lifetime; refresh tokens rotate within it and are stored hashed.
type SessionStore struct {
	rdb    redis.UniversalClient
	crypto *crypto.CryptoService
	ttl    time.Duration
	now    func() time.Time

	// beforeRotateWrite runs between Rotate's read and its write; tests use it
	// to interleave a revocation.
	beforeRotateWrite func(sessionID string)
}

func NewSessionStore(rdb redis.UniversalClient, cs *crypto.CryptoService, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, crypto: cs, ttl: ttl, now: time.Now}
}

func sessionKey(id string) string             { return sessionKeyPrefix + id }
func refreshKey(hash string) string           { return refreshKeyPrefix + hash }
func userSessionsKey(userID uuid.UUID) string { return userSessionsKeyPrefix + userID.String() }

// Create opens a session and returns it with a fresh refresh token.
func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, ipAddr, userAgent string) (*SessionData, string, error) {
	refreshToken, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	sess := &SessionData{
		ID:          uuid.NewString(),
		UserID:      userID,
		RefreshHash: crypto.HashToken(refreshToken),
		IPAddress:   ipAddr,
		UserAgent:   userAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	blob, err := s.seal(sess)
	if err != nil {
		return nil, "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.ID), blob, s.ttl)
		pipe.Set(ctx, refreshKey(sess.RefreshHash), sess.ID, s.ttl)
		pipe.SAdd(ctx, userSessionsKey(userID), sess.ID)
		pipe.Expire(ctx, userSessionsKey(userID), s.ttl)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("store session: %w", err)
	}

	metrics.SessionCreated()
	return sess, refreshToken, nil
}

// Get loads and decrypts a session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionData, error) {
	blob, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}
	return s.open(blob)
}

// IsActive reports whether the session still exists.
func (s *SessionStore) IsActive(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Rotate exchanges a refresh token for a new one. Each refresh token is
// single-use: GETDEL removes it before the session is touched, so a replayed
// token finds nothing.
func (s *SessionStore) Rotate(ctx context.Context, refreshToken string) (*SessionData, string, error) {
	sessionID, err := s.rdb.GetDel(ctx, refreshKey(crypto.HashToken(refreshToken))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrSessionNotFound
		}
		return nil, "", fmt.Errorf("lookup refresh token: %w", err)
	}

	newToken, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}

	// WATCH the session so a concurrent Revoke aborts the rewrite instead of
	// resurrecting a session that is no longer indexed for its user.
	var rotated *SessionData
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, sessionKey(sessionID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to get session from Redis: %w", err)
		}
		sess, err := s.open(blob)
		if err != nil {
			return err
		}

		remaining := sess.ExpiresAt.Sub(s.now())
		if remaining <= 0 {
			return errSessionExpired
		}

		if s.beforeRotateWrite != nil {
			s.beforeRotateWrite(sess.ID)
		}

		sess.RefreshHash = crypto.HashToken(newToken)
		sealed, err := s.seal(sess)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(sess.ID), sealed, remaining)
			pipe.Set(ctx, refreshKey(sess.RefreshHash), sess.ID, remaining)
			return nil
		})
		if err != nil {
			return err
		}
		rotated = sess
		return nil
	}, sessionKey(sessionID))

	switch {
	case err == nil:
		return rotated, newToken, nil
	case errors.Is(err, redis.TxFailedErr):
		// revoked while rotating
		return nil, "", ErrSessionNotFound
	case errors.Is(err, errSessionExpired):
		_ = s.Revoke(ctx, sessionID)
		return nil, "", ErrSessionNotFound
	case errors.Is(err, ErrSessionNotFound):
		return nil, "", err
	default:
		return nil, "", fmt.Errorf("store rotated session: %w", err)
	}
}

// Revoke deletes a session and its current refresh token.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sess.ID), refreshKey(sess.RefreshHash))
		pipe.SRem(ctx, userSessionsKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	metrics.SessionsRevoked(1)
	return nil
}

// RevokeAll deletes every session of a user except keepSessionID (which may be empty).
// It returns the number of sessions revoked.
func (s *SessionStore) RevokeAll(ctx context.Context, userID uuid.UUID, keepSessionID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	revoked := 0
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		err := s.Revoke(ctx, id)
		switch {
		case err == nil:
			revoked++
		case errors.Is(err, ErrSessionNotFound):
			// expired by TTL; drop the dangling index entry
			s.rdb.SRem(ctx, userSessionsKey(userID), id)
		default:
			return revoked, err
		}
	}
	return revoked, nil
}

func (s *SessionStore) seal(sess *SessionData) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session data: %w", err)
	}
	blob, err := s.crypto.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session data: %w", err)
	}
	return blob, nil
}

func (s *SessionStore) open(blob []byte) (*SessionData, error) {
	data, err := s.crypto.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session data: %w", err)
	}
	var sess SessionData
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &sess, nil
}
