package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"asset-register/backend/internal/mfa/domain"
)

const challengePrefix = "mfa:challenge:"

// incrIfPresent bumps the attempt counter without resurrecting an expired challenge.
var incrIfPresent = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)`)

// RedisChallengeStore keeps each challenge in a hash with the record and its
// attempt counter, expiring with the challenge.
type RedisChallengeStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisChallengeStore returns a ChallengeStore backed by client.
func NewRedisChallengeStore(client redis.UniversalClient) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, now: time.Now}
}

func challengeKey(id string) string { return challengePrefix + id }

func (s *RedisChallengeStore) Put(ctx context.Context, c *domain.Challenge) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("mfa: challenge %s already expired", c.ID)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	key := challengeKey(c.ID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "data", raw, "attempts", 0)
		p.PExpire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisChallengeStore) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	raw, err := s.client.HGet(ctx, challengeKey(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("mfa: decode challenge: %w", err)
	}
	return &c, nil
}

func (s *RedisChallengeStore) IncrAttempts(ctx context.Context, id string) (int, error) {
	n, err := incrIfPresent.Run(ctx, s.client, []string{challengeKey(id)}).Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrChallengeNotFound
	}
	return n, nil
}

func (s *RedisChallengeStore) Consume(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, challengeKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
