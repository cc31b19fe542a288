package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWithCeiling runs server side so the read, the comparison and
// the write cannot interleave with another client.
//
// KEYS[1] map, ARGV[1] field, ARGV[2] ceiling.
// Returns the new count, or -(current count)-1 when the ceiling is reached.
// A {"numAcceptedRequests": n} value is read as n and rewritten as decimal.
var incrementWithCeiling = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
local cur = 0
if raw then
  cur = tonumber(raw)
  if cur == nil then
    local ok, obj = pcall(cjson.decode, raw)
    if ok and type(obj) == 'table' then
      cur = tonumber(obj['numAcceptedRequests'])
    end
  end
  if cur == nil then
    return redis.error_reply('` + corruptReply + `')
  end
end
local ceiling = tonumber(ARGV[2])
if cur >= ceiling then
  return -cur - 1
end
cur = cur + 1
redis.call('HSET', KEYS[1], ARGV[1], tostring(cur))
return cur
`)

const corruptReply = "CORRUPT counter is not an integer"

type RedisGateway struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisGateway)

// WithKeyPrefix namespaces every map name, e.g. "router:" + "targets".
func WithKeyPrefix(prefix string) RedisOption {
	return func(g *RedisGateway) { g.prefix = prefix }
}

func NewRedisGateway(rdb redis.UniversalClient, opts ...RedisOption) *RedisGateway {
	g := &RedisGateway{rdb: rdb}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGateway) key(mapName string) string { return g.prefix + mapName }

func (g *RedisGateway) FieldGet(ctx context.Context, mapName, field string) (string, bool, error) {
	v, err := g.rdb.HGet(ctx, g.key(mapName), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("hget "+mapName, err)
	}
	return v, true, nil
}

func (g *RedisGateway) FieldGetAll(ctx context.Context, mapName string) (map[string]string, error) {
	m, err := g.rdb.HGetAll(ctx, g.key(mapName)).Result()
	if err != nil {
		return nil, unavailable("hgetall "+mapName, err)
	}
	return m, nil
}

func (g *RedisGateway) FieldSet(ctx context.Context, mapName, field, value string) error {
	if err := g.rdb.HSet(ctx, g.key(mapName), field, value).Err(); err != nil {
		return unavailable("hset "+mapName, err)
	}
	return nil
}

func (g *RedisGateway) FieldSetIfAbsent(ctx context.Context, mapName, field, value string) (bool, error) {
	created, err := g.rdb.HSetNX(ctx, g.key(mapName), field, value).Result()
	if err != nil {
		return false, unavailable("hsetnx "+mapName, err)
	}
	return created, nil
}

func (g *RedisGateway) IncrementWithCeiling(ctx context.Context, mapName, field string, ceiling int64) (int64, bool, error) {
	if ceiling <= 0 {
		// nothing can be accepted; skip the round trip but still report the count
		v, ok, err := g.FieldGet(ctx, mapName, field)
		if err != nil || !ok {
			return 0, false, err
		}
		n, err := ParseCount(v)
		if err != nil {
			return 0, false, fmt.Errorf("field %s/%s: %w", mapName, field, err)
		}
		return n, false, nil
	}

	n, err := incrementWithCeiling.Run(ctx, g.rdb, []string{g.key(mapName)}, field, ceiling).Int64()
	if err != nil && strings.Contains(err.Error(), "counter is not an integer") {
		return 0, false, fmt.Errorf("field %s/%s: %w: %w", mapName, field, ErrCorrupt, err)
	}
	if err != nil {
		return 0, false, unavailable("increment "+mapName, err)
	}
	if n < 0 {
		return -n - 1, false, nil
	}
	return n, true, nil
}

func (g *RedisGateway) Expire(ctx context.Context, mapName string, ttl time.Duration) error {
	if err := g.rdb.Expire(ctx, g.key(mapName), ttl).Err(); err != nil {
		return unavailable("expire "+mapName, err)
	}
	return nil
}

func (g *RedisGateway) Ping(ctx context.Context) error {
	if err := g.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (g *RedisGateway) Close() error { return g.rdb.Close() }
