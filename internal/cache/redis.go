package cache

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisNamesKey    = "newt:caches"
	redisStorePrefix = "newt:cache:"
)

// RedisStorage keeps each named store in one hash; the set of names lives
// in a separate set so Names does not need to scan the keyspace.
type RedisStorage struct {
	client redis.Cmdable
}

func NewRedisStorage(client redis.Cmdable) *RedisStorage {
	return &RedisStorage{client: client}
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := s.client.SAdd(ctx, redisNamesKey, name).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: s.client, name: name}, nil
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, redisNamesKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStorage) Remove(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisStoreKey(name))
		pipe.SRem(ctx, redisNamesKey, name)
		return nil
	})
	return err
}

type RedisStore struct {
	client redis.Cmdable
	name   string
}

func (s *RedisStore) Name() string { return s.name }

func (s *RedisStore) Match(ctx context.Context, key string) (Object, error) {
	raw, err := s.client.HGet(ctx, redisStoreKey(s.name), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	return decodeRecord(raw)
}

// Put re-registers the store name so an entry is never left in a hash that
// Names cannot see.
func (s *RedisStore) Put(ctx context.Context, key string, obj Object) error {
	raw, err := encodeRecord(obj)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisNamesKey, s.name)
		pipe.HSet(ctx, redisStoreKey(s.name), key, raw)
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, redisStoreKey(s.name), key).Err()
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, redisStoreKey(s.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func redisStoreKey(name string) string {
	return redisStorePrefix + name
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Store   = (*RedisStore)(nil)
)
