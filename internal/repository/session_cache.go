package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fairwager/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	keyRound        = "round:%d"
	keyPlayerRounds = "player:%s:rounds"
	defaultCacheTTL = 30 * time.Minute
)

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SessionCache keeps JSON snapshots of active rounds so a reconnecting client
// can resume without touching Postgres. It is a mirror, never the source of truth.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &SessionCache{client: client, ttl: ttl}
}

// Put stores a snapshot; final rounds are removed instead
func (c *SessionCache) Put(ctx context.Context, r *domain.Round) error {
	if r.Status.Final() {
		return c.Delete(ctx, r)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	setKey := fmt.Sprintf(keyPlayerRounds, r.Player)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyRound, r.Nonce), data, c.ttl)
	pipe.SAdd(ctx, setKey, r.Nonce)
	pipe.Expire(ctx, setKey, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *SessionCache) Get(ctx context.Context, nonce uint64) (*domain.Round, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(keyRound, nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	var r domain.Round
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Active lists the nonces of a player's cached rounds
func (c *SessionCache) Active(ctx context.Context, player string) ([]uint64, error) {
	members, err := c.client.SMembers(ctx, fmt.Sprintf(keyPlayerRounds, player)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *SessionCache) Delete(ctx context.Context, r *domain.Round) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyRound, r.Nonce))
	pipe.SRem(ctx, fmt.Sprintf(keyPlayerRounds, r.Player), r.Nonce)
	_, err := pipe.Exec(ctx)
	return err
}
