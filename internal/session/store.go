// Package session records authenticated connection sessions in Redis. Each
// live WebSocket connection gets a session hash mapping it to its resolved
// user identity, which gives operators a live view of who is connected where
// and lets tooling correlate connections across restarts.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all connection session hashes.
	SessionPrefix = "conn:"

	// SessionTTL is the time-to-live for session keys in Redis. Live
	// connections refresh it via Touch; sessions of dead connections expire
	// on their own.
	SessionTTL = 1 * time.Hour
)

// Session is one connection's session record.
type Session struct {
	ID          string `redis:"id"`           // connection ID (UUID)
	UserID      string `redis:"user_id"`      // authenticated identity
	Server      string `redis:"server"`       // which server instance holds the connection
	RemoteAddr  string `redis:"remote_addr"`  // client address at upgrade time
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// Store manages connection session records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a session record for an authenticated connection with the
// standard TTL.
func (s *Store) Create(ctx context.Context, connID, userID, remoteAddr string) error {
	key := SessionPrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"id":           connID,
		"user_id":      userID,
		"server":       s.serverName,
		"remote_addr":  remoteAddr,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session record. Returns nil if not found or expired.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	key := SessionPrefix + connID
	var sess Session
	err := s.client.HGetAll(ctx, key).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Touch refreshes the session's last_active timestamp and TTL.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session record when its connection closes.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := SessionPrefix + connID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (rate limiter, ban store).
func (s *Store) Client() *redis.Client {
	return s.client
}
