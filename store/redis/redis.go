// Package redis implements the tagcache store contract on go-redis.
package redis

import (
	"bufio"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Feustey/tagcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

// clearScript deletes every key matching ARGV[1] server-side so a clear is
// not interleaved with concurrent writers.
var clearScript = goredis.NewScript(`
local ks = redis.call('KEYS', ARGV[1])
local n = 0
for i = 1, #ks, 1000 do
  n = n + redis.call('DEL', unpack(ks, i, math.min(i + 999, #ks)))
end
return n
`)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL means no expiry per store contract
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}

func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, key, ttl).Result()
}

func (s *Redis) SAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.rdb.SAdd(ctx, set, toAny(members)...).Err()
}

func (s *Redis) SRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.rdb.SRem(ctx, set, toAny(members)...).Err()
}

func (s *Redis) SMembers(ctx context.Context, set string) ([]string, error) {
	return s.rdb.SMembers(ctx, set).Result()
}

func (s *Redis) SCard(ctx context.Context, set string) (int64, error) {
	return s.rdb.SCard(ctx, set).Result()
}

func (s *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	return s.rdb.HIncrBy(ctx, key, field, delta).Err()
}

func (s *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return s.rdb.Scan(ctx, cursor, match, count).Result()
}

func (s *Redis) Clear(ctx context.Context, match string) (int64, error) {
	return clearScript.Run(ctx, s.rdb, nil, match).Int64()
}

func (s *Redis) Batch() store.Batch {
	return &batch{pipe: s.rdb.TxPipeline()}
}

func (s *Redis) Info(ctx context.Context) (store.ServerInfo, error) {
	raw, err := s.rdb.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return store.ServerInfo{}, err
	}
	return parseInfo(raw), nil
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type batch struct {
	pipe goredis.Pipeliner
}

var _ store.Batch = (*batch)(nil)

func (b *batch) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 0
	}
	b.pipe.Set(context.Background(), key, value, ttl)
}

func (b *batch) SAdd(set string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.pipe.SAdd(context.Background(), set, toAny(members)...)
}

func (b *batch) Expire(key string, ttl time.Duration) {
	b.pipe.Expire(context.Background(), key, ttl)
}

func (b *batch) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.pipe.Del(context.Background(), keys...)
}

func (b *batch) Exec(ctx context.Context) error {
	_, err := b.pipe.Exec(ctx)
	return err
}

func parseInfo(raw string) store.ServerInfo {
	var info store.ServerInfo
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch k {
		case "used_memory":
			info.UsedMemory, _ = strconv.ParseInt(v, 10, 64)
		case "used_memory_human":
			info.UsedMemoryHuman = v
		case "expired_keys":
			info.ExpiredKeys, _ = strconv.ParseInt(v, 10, 64)
		case "evicted_keys":
			info.EvictedKeys, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return info
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
