package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/authcore/internal/model"
)

const (
	refreshPrefix   = "refresh:"
	indexPrefix     = "sessions:"
	blacklistPrefix = "blacklist:"
)

func refreshKey(userID, tokenID string) string { return refreshPrefix + userID + ":" + tokenID }
func indexKey(userID string) string            { return indexPrefix + userID }
func blacklistKey(tokenID string) string       { return blacklistPrefix + tokenID }

// RedisRegistry implements Registry on top of a go-redis client.
type RedisRegistry struct {
	rdb          redis.UniversalClient
	log          *zap.Logger
	blacklistTTL time.Duration
	now          func() time.Time
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry wires the registry. blacklistTTL <= 0 selects DefaultBlacklistTTL.
func NewRedisRegistry(rdb redis.UniversalClient, log *zap.Logger, blacklistTTL time.Duration) *RedisRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	if blacklistTTL <= 0 {
		blacklistTTL = DefaultBlacklistTTL
	}
	return &RedisRegistry{rdb: rdb, log: log, blacklistTTL: blacklistTTL, now: time.Now}
}

func (r *RedisRegistry) StoreRefreshToken(ctx context.Context, userID, tokenID string, ttl time.Duration, dev model.DeviceInfo) error {
	if userID == "" || tokenID == "" {
		return errors.New("session: user id and token id are required")
	}
	if ttl <= 0 {
		return errors.New("session: ttl must be positive")
	}
	now := r.now().UTC()
	payload, err := json.Marshal(model.Session{
		UserID:    userID,
		TokenID:   tokenID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IP:        dev.IP,
		UserAgent: dev.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	idx := indexKey(userID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, refreshKey(userID, tokenID), payload, ttl)
		p.SAdd(ctx, idx, tokenID)
		p.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	return nil
}

func (r *RedisRegistry) ValidateRefreshToken(ctx context.Context, userID, tokenID string) (*model.Session, error) {
	raw, err := r.rdb.Get(ctx, refreshKey(userID, tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &s, nil
}

func (r *RedisRegistry) RevokeRefreshToken(ctx context.Context, userID, tokenID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, refreshKey(userID, tokenID))
		p.SRem(ctx, indexKey(userID), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// RevokeAllUserTokens drops every session listed in the user's index. Only the ids
// that were read are removed from the index, so a session stored concurrently stays
// indexed and can be revoked later.
func (r *RedisRegistry) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	idx := indexKey(userID)
	ids, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("session: list index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, refreshKey(userID, id))
		members = append(members, id)
	}
	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.SRem(ctx, idx, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	removed := del.Val()
	r.log.Info("revoked user sessions", zap.String("user_id", userID), zap.Int64("count", removed))
	return int(removed), nil
}

func (r *RedisRegistry) BlacklistAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("session: token id is required")
	}
	if ttl <= 0 {
		ttl = r.blacklistTTL
	}
	if err := r.rdb.Set(ctx, blacklistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: blacklist: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsAccessTokenBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("session: blacklist lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) GetUserSessions(ctx context.Context, userID string) ([]model.Session, error) {
	idx := indexKey(userID)
	ids, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("session: list index: %w", err)
	}
	if len(ids) == 0 {
		return []model.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = refreshKey(userID, id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	out := make([]model.Session, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(s), &sess); err != nil {
			r.log.Warn("skip undecodable session", zap.String("user_id", userID), zap.String("token_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		// Index members whose direct key already expired.
		if err := r.rdb.SRem(ctx, idx, stale...).Err(); err != nil {
			r.log.Warn("prune session index", zap.String("user_id", userID), zap.Error(err))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisRegistry) CountUserSessions(ctx context.Context, userID string) (int, error) {
	s, err := r.GetUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}
