// Package redis mirrors the live session set into a Redis hash so other
// processes can see who is logged in. The mirror is observational only; the
// in-process session cache stays authoritative.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/porthorian/sessionauth/pkg/identity"
)

const DefaultNamespace = "sessionauth"

var ErrRedisUnavailable = errors.New("redis mirror: redis unavailable")

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Entry is the value stored per principal id.
type Entry struct {
	PrincipalID int64             `json:"principal_id"`
	Login       string            `json:"login"`
	SessionID   string            `json:"session_id,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	LoggedInAt  time.Time         `json:"logged_in_at"`
	Properties  map[string]string `json:"properties,omitempty"`
}

type Mirror struct {
	redis redis.UniversalClient
	key   string
	owned bool
	now   func() time.Time
}

// NewMirror dials Redis from cfg. The mirror owns the client and closes it
// on Close.
func NewMirror(cfg Config) *Mirror {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.Database,
		DialTimeout: cfg.DialTimeout,
	})
	m := NewMirrorWithClient(client, cfg.Namespace)
	m.owned = true
	return m
}

func NewMirrorWithClient(client redis.UniversalClient, namespace string) *Mirror {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Mirror{
		redis: client,
		key:   namespace + ":sessions",
		now:   time.Now,
	}
}

func (m *Mirror) Key() string {
	return m.key
}

func (m *Mirror) OnLogin(ctx context.Context, principal identity.Principal, props identity.Properties) error {
	sessionID := props[identity.PropertySessionID]
	data, err := json.Marshal(Entry{
		PrincipalID: principal.ID,
		Login:       principal.Login,
		SessionID:   sessionID,
		Roles:       principal.Roles,
		LoggedInAt:  m.now().UTC(),
		Properties:  props,
	})
	if err != nil {
		return err
	}

	if err := m.redis.HSet(ctx, m.key, field(principal.ID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (m *Mirror) OnLogout(ctx context.Context, principal identity.Principal, _ identity.Properties) error {
	if err := m.redis.HDel(ctx, m.key, field(principal.ID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sessions reads the mirrored set. Entries that fail to decode are skipped.
func (m *Mirror) Sessions(ctx context.Context) (map[int64]Entry, error) {
	raw, err := m.redis.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make(map[int64]Entry, len(raw))
	for key, value := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		out[id] = entry
	}
	return out, nil
}

// Reset drops every mirrored entry, typically at process start when the
// in-process cache is empty.
func (m *Mirror) Reset(ctx context.Context) error {
	if err := m.redis.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (m *Mirror) Close() error {
	if m == nil || !m.owned || m.redis == nil {
		return nil
	}
	return m.redis.Close()
}

func field(id int64) string {
	return strconv.FormatInt(id, 10)
}
