// Package presence mirrors channel membership into Redis so other services
// can see who is in which voice channel.
package presence

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/voicechan/internal/domain"
)

// Store records channel membership.
type Store interface {
	Reset(ctx context.Context) error
	Joined(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
	Left(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
	Members(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error)
}

// RedisStore keeps a set per channel and a key per user naming its channel.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// leaveScript removes the user key only while it still names the channel
// being left; a join elsewhere may have landed first.
var leaveScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) == ARGV[1] then
	redis.call('DEL', KEYS[2])
end
return redis.call('SREM', KEYS[1], ARGV[2])
`)

// NewRedisStore builds a presence store. Prefix is optional and defaults to "voice".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "voice"
	}
	return &RedisStore{rdb: rdb, prefix: p}
}

func (s *RedisStore) channelKey(id domain.ChannelID) string {
	return fmt.Sprintf("%s:channel:%s", s.prefix, id)
}

func (s *RedisStore) userKey(id domain.UserID) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, id)
}

// Reset drops everything a previous process left behind.
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Joined(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.channelKey(channel), string(user))
		pipe.Set(ctx, s.userKey(user), string(channel), 0)
		return nil
	})
	return err
}

func (s *RedisStore) Left(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	keys := []string{s.channelKey(channel), s.userKey(user)}
	return leaveScript.Run(ctx, s.rdb, keys, string(channel), string(user)).Err()
}

func (s *RedisStore) Members(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	vals, err := s.rdb.SMembers(ctx, s.channelKey(channel)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserID, len(vals))
	for i, v := range vals {
		out[i] = domain.UserID(v)
	}
	return out, nil
}
