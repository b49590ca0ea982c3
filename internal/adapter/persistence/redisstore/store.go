// Package redisstore persists long-term memory in Redis. Each entry lives at
// <prefix><id>; index records live in the hash <prefix>index.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"conductor/internal/domain"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "mem:"

// Client is the subset of Redis the store needs.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetWithIndex writes key and the index hash field atomically.
	SetWithIndex(ctx context.Context, key string, value []byte, indexKey, field string, indexValue []byte) error
	// DelWithIndex removes key and the index hash field atomically.
	DelWithIndex(ctx context.Context, key, indexKey, field string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Close() error
}

// Store implements domain.PersistenceAdapter on a Redis Client.
type Store struct {
	client Client
	prefix string
}

// New wraps client. An empty prefix uses DefaultPrefix.
func New(client Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial parses a redis:// URL and connects. A non-empty password overrides
// the one in the URL.
func Dial(ctx context.Context, url, password, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", domain.ErrMemoryStore, err)
	}
	if password != "" {
		opts.Password = password
	}
	rc := goredis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", domain.ErrServiceUnavailable, err)
	}
	return New(&redisAdapter{client: rc}, prefix), nil
}

func (s *Store) Name() string { return "redis" }

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) indexKey() string { return s.prefix + "index" }

func (s *Store) Save(ctx context.Context, id string, data []byte, index domain.IndexRecord) error {
	rec, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: marshal index: %v", domain.ErrMemoryIndex, err)
	}
	if err := s.client.SetWithIndex(ctx, s.prefix+id, data, s.indexKey(), id, rec); err != nil {
		return fmt.Errorf("%w: save %s: %v", domain.ErrMemoryStore, id, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	data, ok, err := s.client.Get(ctx, s.prefix+id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: load %s: %v", domain.ErrMemoryStore, id, err)
	}
	return data, ok, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.DelWithIndex(ctx, s.prefix+id, s.indexKey(), id)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", domain.ErrMemoryStore, id, err)
	}
	return ok, nil
}

func (s *Store) ListIndex(ctx context.Context) ([]domain.IndexRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.indexKey())
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrMemoryIndex, err)
	}
	out := make([]domain.IndexRecord, 0, len(fields))
	for id, raw := range fields {
		var rec domain.IndexRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: decode index %s: %v", domain.ErrMemoryIndex, id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// redisAdapter wraps a go-redis client to implement Client.
type redisAdapter struct {
	client *goredis.Client
}

func (r *redisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *redisAdapter) SetWithIndex(ctx context.Context, key string, value []byte, indexKey, field string, indexValue []byte) error {
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, value, 0)
		p.HSet(ctx, indexKey, field, indexValue)
		return nil
	})
	return err
}

func (r *redisAdapter) DelWithIndex(ctx context.Context, key, indexKey, field string) (bool, error) {
	var del *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, key)
		p.HDel(ctx, indexKey, field)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (r *redisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *redisAdapter) Close() error {
	return r.client.Close()
}

var _ domain.PersistenceAdapter = (*Store)(nil)
