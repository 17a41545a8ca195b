// Package store checkpoints active game sessions in Redis so a restarted
// bot can rejoin its games.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/gtp-ogs-bot/internal/domain"
)

const sessionTTL = 24 * time.Hour

type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisStore(redisURL string, logger *zap.Logger) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL required for session store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	if strings.TrimSpace(rec.GameID) == "" {
		return errors.New("session record without game id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(rec.GameID), raw, sessionTTL)
	pipe.SAdd(ctx, indexKey(), rec.GameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", rec.GameID, err)
	}
	return nil
}

// Load returns nil, nil when no checkpoint exists.
func (s *RedisStore) Load(ctx context.Context, gameID string) (*domain.SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", gameID, err)
	}
	return &rec, nil
}

// LoadAll returns every checkpoint still alive. Index entries whose record
// expired are pruned on the way.
func (s *RedisStore) LoadAll(ctx context.Context) ([]domain.SessionRecord, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("session_load_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if rec == nil {
			_ = s.rdb.SRem(ctx, indexKey(), id).Err()
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, gameID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(gameID))
	pipe.SRem(ctx, indexKey(), gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", gameID, err)
	}
	return nil
}

func sessionKey(id string) string { return "gobot:session:" + strings.TrimSpace(id) }
func indexKey() string            { return "gobot:sessions" }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
