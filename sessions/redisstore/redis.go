package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=climber:sessions:"`
}

// Store keeps each session in a hash holding the immutable JSON document
// plus the mutable status, activity and message count fields. A sorted set scored by a
// creation sequence backs List; a set of active ids backs Stats.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "climber:sessions:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Disconnect closes the Redis client.
func (s *Store) Disconnect() error { return s.client.Close() }

// --- Key helpers ---

func (s *Store) sessionKey(id string) string { return s.keyPrefix + "session:" + id }
func (s *Store) indexKey() string            { return s.keyPrefix + "index" }
func (s *Store) activeKey() string           { return s.keyPrefix + "active" }
func (s *Store) seqKey() string              { return s.keyPrefix + "seq" }

const (
	fieldDoc      = "doc"
	fieldStatus   = "status"
	fieldLastUS   = "last_us"
	fieldClosedUS = "closed_us"
	fieldMessages = "messages"
)

// Timestamps are stored as microseconds so Lua can compare them exactly.
func toMicros(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func fromMicros(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(n).UTC(), nil
}

var createScript = redis.NewScript(`
local sess = KEYS[1]
local index = KEYS[2]
local active = KEYS[3]
local seq = KEYS[4]
if redis.call('EXISTS', sess) == 1 then
  return 0
end
redis.call('HSET', sess, 'doc', ARGV[2], 'status', ARGV[3], 'last_us', ARGV[4], 'closed_us', '0', 'messages', ARGV[5])
local n = redis.call('INCR', seq)
redis.call('ZADD', index, n, ARGV[1])
if ARGV[3] == 'active' then
  redis.call('SADD', active, ARGV[1])
end
return 1
`)

var touchScript = redis.NewScript(`
local sess = KEYS[1]
local st = redis.call('HGET', sess, 'status')
if not st then
  return -1
end
if st ~= 'active' then
  return 0
end
local last = tonumber(redis.call('HGET', sess, 'last_us'))
if tonumber(ARGV[1]) > last then
  redis.call('HSET', sess, 'last_us', ARGV[1])
end
if tonumber(ARGV[2]) > 0 then
  redis.call('HINCRBY', sess, 'messages', ARGV[2])
end
return 1
`)

var closeScript = redis.NewScript(`
local sess = KEYS[1]
local active = KEYS[2]
if redis.call('HGET', sess, 'status') ~= 'active' then
  return 0
end
redis.call('HSET', sess, 'status', 'closed', 'closed_us', ARGV[2])
redis.call('SREM', active, ARGV[1])
return 1
`)

// Create implements sessions.Store.
func (s *Store) Create(ctx context.Context, sess *sessions.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	keys := []string{s.sessionKey(sess.ID), s.indexKey(), s.activeKey(), s.seqKey()}
	res, err := createScript.Run(ctx, s.client, keys, sess.ID, doc, string(sess.Status), toMicros(sess.LastActivityAt), sess.MessageCount).Int()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if res == 0 {
		return sessions.ErrSessionExists
	}
	return nil
}

// Get implements sessions.Store.
func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, sessions.ErrSessionNotFound
	}
	return decodeSession(fields)
}

// Touch implements sessions.Store.
func (s *Store) Touch(ctx context.Context, id string, at time.Time, messages int) (*sessions.Session, error) {
	res, err := touchScript.Run(ctx, s.client, []string{s.sessionKey(id)}, toMicros(at), messages).Int()
	if err != nil {
		return nil, fmt.Errorf("redis touch session: %w", err)
	}
	switch res {
	case -1:
		return nil, sessions.ErrSessionNotFound
	case 0:
		return nil, sessions.ErrSessionInvalid
	}
	return s.Get(ctx, id)
}

// Close implements sessions.Store.
func (s *Store) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	// The transition must land even if the caller goes away mid-flight.
	c := context.WithoutCancel(ctx)
	keys := []string{s.sessionKey(id), s.activeKey()}
	res, err := closeScript.Run(c, s.client, keys, id, toMicros(at)).Int()
	if err != nil {
		return false, fmt.Errorf("redis close session: %w", err)
	}
	return res == 1, nil
}

// List implements sessions.Store.
func (s *Store) List(ctx context.Context, skip, limit int) (sessions.Page, error) {
	skip, limit = sessions.ClampPage(skip, limit)

	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return sessions.Page{}, fmt.Errorf("redis count sessions: %w", err)
	}
	if int64(skip) >= total {
		return sessions.Page{Items: []*sessions.Session{}, Total: int(total)}, nil
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), int64(skip), int64(skip+limit-1)).Result()
	if err != nil {
		return sessions.Page{}, fmt.Errorf("redis list sessions: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return sessions.Page{}, fmt.Errorf("redis load sessions: %w", err)
	}

	items := make([]*sessions.Session, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return sessions.Page{}, err
		}
		items = append(items, sess)
	}
	return sessions.Page{Items: items, Total: int(total)}, nil
}

// Stats implements sessions.Store.
func (s *Store) Stats(ctx context.Context) (sessions.Stats, error) {
	pipe := s.client.Pipeline()
	totalCmd := pipe.ZCard(ctx, s.indexKey())
	activeCmd := pipe.SCard(ctx, s.activeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return sessions.Stats{}, fmt.Errorf("redis session stats: %w", err)
	}
	return sessions.Stats{Total: int(totalCmd.Val()), Active: int(activeCmd.Val())}, nil
}

// Ping implements sessions.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ sessions.Store = (*Store)(nil)

func decodeSession(fields map[string]string) (*sessions.Session, error) {
	var sess sessions.Session
	if err := json.Unmarshal([]byte(fields[fieldDoc]), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Status = sessions.Status(fields[fieldStatus])
	last, err := fromMicros(fields[fieldLastUS])
	if err != nil {
		return nil, fmt.Errorf("decode last activity: %w", err)
	}
	closed, err := fromMicros(fields[fieldClosedUS])
	if err != nil {
		return nil, fmt.Errorf("decode closed_at: %w", err)
	}
	sess.LastActivityAt = last
	sess.ClosedAt = closed
	if v, ok := fields[fieldMessages]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode message count: %w", err)
		}
		sess.MessageCount = n
	}
	return &sess, nil
}

// deleteByPattern removes every key matching pattern. Used to drop a prefix.
func (s *Store) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := s.client.Scan(ctx, cursor, pattern, 50).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if cur == 0 {
			return nil
		}
		cursor = cur
	}
}

// Purge deletes every key under the store's prefix.
func (s *Store) Purge(ctx context.Context) error {
	return s.deleteByPattern(ctx, s.keyPrefix+"*")
}
