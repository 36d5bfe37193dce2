package denylist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/counter"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
)

const redisDenylistPrefix = "bottlegate:deny:"

// KEYS: state hash, block.
// ARGV: now_ms, observation_ms, threshold, base_ms, cap_ms, reason, immediate, hold_ms.
// Returns {escalated, until_ms, level}. Window and reset arithmetic use the
// caller's clock; key TTLs are only for hygiene.
var redisReportScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local observe = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local base = tonumber(ARGV[4])
local cap = tonumber(ARGV[5])
local reason = ARGV[6]
local immediate = tonumber(ARGV[7])
local hold = tonumber(ARGV[8])

local function duration(level)
  if level < 1 then return 0 end
  local d = base
  for i = 2, level do
    d = d * 2
    if d >= cap then return cap end
  end
  if d > cap then d = cap end
  return d
end

local vcount = tonumber(redis.call('HGET', KEYS[1], 'vcount') or '0')
local vstart = tonumber(redis.call('HGET', KEYS[1], 'vstart') or '0')
if vcount == 0 or (now - vstart) >= observe then
  vcount = 0
  vstart = now
end
vcount = vcount + 1

local level = tonumber(redis.call('HGET', KEYS[1], 'level') or '0')
local last = tonumber(redis.call('HGET', KEYS[1], 'last') or '0')
if level > 0 and (now - last) > math.max(observe, duration(level)) then
  level = 0
end
-- last is when the identity was last seen misbehaving or released from a
-- block, whichever is later.
if now > last then
  last = now
end

if immediate == 0 and vcount < threshold then
  redis.call('HSET', KEYS[1], 'vcount', vcount, 'vstart', string.format('%d', vstart),
    'level', level, 'last', string.format('%d', last))
  redis.call('PEXPIRE', KEYS[1], hold)
  return {0, 0, level}
end

level = level + 1
local d = duration(level)
local untilms = now + d
redis.call('SET', KEYS[2], string.format('%d', untilms) .. '|' .. reason .. '|' .. level, 'PX', d)
redis.call('HSET', KEYS[1], 'vcount', 0, 'vstart', 0, 'level', level, 'last', string.format('%d', untilms))
redis.call('PEXPIRE', KEYS[1], hold)
return {1, untilms, level}
`)

// RedisStore is an Escalator shared across instances through Redis. All
// keys of one identity share a hash tag so the report script stays on one
// cluster slot.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
	clock  clock.Clock
	policy Policy
	prefix string
}

// NewRedisStore wraps an established client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, p Policy, c clock.Clock) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	return &RedisStore{
		client: client,
		script: redisReportScript,
		clock:  c,
		policy: p,
		prefix: redisDenylistPrefix,
	}, nil
}

func (s *RedisStore) keys(id identity.Identity) (state, block string) {
	base := s.prefix + "{" + id.Key() + "}"
	return base + ":state", base + ":block"
}

// ReportViolation implements Escalator with one atomic script call.
func (s *RedisStore) ReportViolation(ctx context.Context, id identity.Identity, reason Reason) (Entry, bool, error) {
	now := s.clock.Now()
	st, b := s.keys(id)

	immediate := 0
	if s.policy.immediate(reason) {
		immediate = 1
	}

	res, err := s.script.Run(ctx, s.client, []string{st, b},
		now.UnixMilli(),
		s.policy.Observation.Milliseconds(),
		s.policy.Threshold,
		s.policy.Base.Milliseconds(),
		s.policy.Cap.Milliseconds(),
		string(reason),
		immediate,
		s.policy.levelHold().Milliseconds(),
	).Result()
	if err != nil {
		return Entry{}, false, unavailable("running report script", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Entry{}, false, fmt.Errorf("%w: unexpected report result %T", counter.ErrStoreUnavailable, res)
	}
	escalated, err := counter.AsInt64(values[0])
	if err != nil {
		return Entry{}, false, unavailable("parsing escalated flag", err)
	}
	if escalated == 0 {
		return Entry{}, false, nil
	}
	untilMS, err := counter.AsInt64(values[1])
	if err != nil {
		return Entry{}, false, unavailable("parsing until", err)
	}
	level, err := counter.AsInt64(values[2])
	if err != nil {
		return Entry{}, false, unavailable("parsing level", err)
	}

	return Entry{
		Identity: id,
		Until:    time.UnixMilli(untilMS),
		Reason:   reason,
		Level:    int(level),
	}, true, nil
}

// IsActive implements Escalator. It only reads.
func (s *RedisStore) IsActive(ctx context.Context, id identity.Identity) (Entry, bool, error) {
	_, b := s.keys(id)

	raw, err := s.client.Get(ctx, b).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, unavailable("reading block", err)
	}

	entry, err := parseBlock(id, raw)
	if err != nil {
		return Entry{}, false, unavailable("parsing block", err)
	}
	if !s.clock.Now().Before(entry.Until) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}

func parseBlock(id identity.Identity, raw string) (Entry, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("malformed block value %q", raw)
	}
	untilMS, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse until from %q: %w", raw, err)
	}
	level, err := strconv.Atoi(parts[2])
	if err != nil {
		return Entry{}, fmt.Errorf("parse level from %q: %w", raw, err)
	}
	return Entry{
		Identity: id,
		Until:    time.UnixMilli(untilMS),
		Reason:   Reason(parts[1]),
		Level:    level,
	}, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", counter.ErrStoreUnavailable, op, err)
}
