// Package presence keeps the online flag and last-seen time of users in
// Redis, so every node behind the load balancer sees the same state.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"whchat/internal/user"
)

const keyPrefix = "presence:"

type RedisStore struct {
	rdb *redis.Client
}

var _ user.PresenceStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func key(userID string) string { return keyPrefix + userID }

func (s *RedisStore) SetOnline(ctx context.Context, userID string, at time.Time) error {
	return s.set(ctx, userID, true, at)
}

func (s *RedisStore) SetOffline(ctx context.Context, userID string, at time.Time) error {
	return s.set(ctx, userID, false, at)
}

func (s *RedisStore) set(ctx context.Context, userID string, online bool, at time.Time) error {
	err := s.rdb.HSet(ctx, key(userID),
		"online", strconv.FormatBool(online),
		"last_seen", at.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Get pipelines one HGETALL per user. Users never seen are absent from the
// result.
func (s *RedisStore) Get(ctx context.Context, userIDs ...string) (map[string]user.Presence, error) {
	out := make(map[string]user.Presence, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get presence: %w", err)
	}

	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		p := user.Presence{Online: fields["online"] == "true"}
		if ts, err := time.Parse(time.RFC3339Nano, fields["last_seen"]); err == nil {
			p.LastSeen = ts
		}
		out[userIDs[i]] = p
	}
	return out, nil
}

// ResetOnline marks every user still flagged online as offline at at. A
// relay that crashed never ran its disconnects, so it is called once at
// startup before any session connects. It reports how many users changed.
func (s *RedisStore) ResetOnline(ctx context.Context, at time.Time) (int, error) {
	n := 0
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		online, err := s.rdb.HGet(ctx, k, "online").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, fmt.Errorf("reset presence: %w", err)
		}
		if online != "true" {
			continue
		}
		if err := s.set(ctx, k[len(keyPrefix):], false, at); err != nil {
			return n, err
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("reset presence: %w", err)
	}
	return n, nil
}
