// Package cache stores short-lived verification state in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

// OTPRecord is a hashed one-time code awaiting verification
type OTPRecord struct {
	Hash     string    `json:"hash"`
	IssuedAt time.Time `json:"issued_at"`
}

// attemptsSuffix names the counter kept next to each OTP record
const attemptsSuffix = ":attempts"

// incrAttempts bumps the counter of KEYS[1] and gives it the record's remaining TTL.
// It returns 0 without counting when the record is gone.
var incrAttempts = redis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
	redis.call("DEL", KEYS[2])
	return 0
end
local n = redis.call("INCR", KEYS[2])
if n == 1 then
	redis.call("PEXPIRE", KEYS[2], ttl)
end
return n
`)

// RedisStore keeps OTP records and verification markers in Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis instance at url
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: "fixnearby:"}, nil
}

// Put stores rec under key for ttl, replacing any previous code and its attempt count
func (s *RedisStore) Put(ctx context.Context, key string, rec OTPRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.prefix+key, data, ttl)
		pipe.Del(ctx, s.prefix+key+attemptsSuffix)
		return nil
	})
	return err
}

// Get returns the record under key; found is false when it is missing or expired
func (s *RedisStore) Get(ctx context.Context, key string) (rec OTPRecord, found bool, err error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return OTPRecord{}, false, nil
	}
	if err != nil {
		return OTPRecord{}, false, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return OTPRecord{}, false, fmt.Errorf("decode otp record: %w", err)
	}
	return rec, true, nil
}

// IncrAttempts counts one verification attempt against key and returns the new count.
// Zero means the record no longer exists.
func (s *RedisStore) IncrAttempts(ctx context.Context, key string) (int, error) {
	n, err := incrAttempts.Run(ctx, s.client, []string{s.prefix + key, s.prefix + key + attemptsSuffix}).Int()
	if err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	return n, nil
}

// Take deletes the record under key and reports whether this call removed it
func (s *RedisStore) Take(ctx context.Context, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.prefix+key)
		pipe.Del(ctx, s.prefix+key+attemptsSuffix)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() == 1, nil
}

// Delete removes key and its attempt counter
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key, s.prefix+key+attemptsSuffix).Err()
}

// Mark sets a flag key for ttl
func (s *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, "1", ttl).Err()
}

// Marked reports whether a flag key is present
func (s *RedisStore) Marked(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks connectivity for health checks
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process store used in development and tests
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	rec      OTPRecord
	flag     bool
	attempts int
	expires  time.Time
}

// NewMemoryStore returns an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memEntry), now: time.Now}
}

// SetClock overrides the store's time source
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) get(key string) (memEntry, bool) {
	e, ok := s.records[key]
	if !ok {
		return memEntry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.records, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Put(_ context.Context, key string, rec OTPRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memEntry{rec: rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (OTPRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	return e.rec, ok && !e.flag, nil
}

func (s *MemoryStore) IncrAttempts(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.flag {
		return 0, nil
	}
	e.attempts++
	s.records[key] = e
	return e.attempts, nil
}

func (s *MemoryStore) Take(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.flag {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memEntry{flag: true, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Marked(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	return ok && e.flag, nil
}
