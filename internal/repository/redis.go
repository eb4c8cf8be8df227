package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/akmukhi/developer-self-service/internal/models"
)

const (
	redisKeyPrefix     = "devportal:env:"
	redisIndexKey      = "devportal:envs"
	redisUpdateRetries = 10
)

var errTooMuchContention = errors.New("too much contention")

// RedisStore keeps each record as JSON under devportal:env:<id> and the ids in a set.
// Update is an optimistic WATCH/MULTI transaction.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Create(ctx context.Context, env *models.Environment) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return instrument("redis", "create", func() error {
		ok, err := s.client.SetNX(ctx, redisKey(env.ID), data, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrExists
		}
		return s.client.SAdd(ctx, redisIndexKey, env.ID).Err()
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Environment, error) {
	var data []byte
	err := instrument("redis", "get", func() error {
		var err error
		data, err = s.client.Get(ctx, redisKey(id)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEnvironment(data)
}

func (s *RedisStore) List(ctx context.Context, namespace string) ([]*models.Environment, error) {
	var values []any
	err := instrument("redis", "list", func() error {
		ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = redisKey(id)
		}
		values, err = s.client.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Environment, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		env, err := decodeEnvironment([]byte(str))
		if err != nil {
			return nil, err
		}
		if namespace == "" || env.Namespace == namespace {
			out = append(out, env)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Environment, error) {
	key := redisKey(id)
	var updated *models.Environment
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		env, err := decodeEnvironment(data)
		if err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
		env.ID = id
		next, err := json.Marshal(env)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			updated = env
		}
		return err
	}
	err := instrument("redis", "update", func() error {
		err := retryWatch(redisUpdateRetries, func() error {
			return s.client.Watch(ctx, txf, key)
		})
		if errors.Is(err, errTooMuchContention) {
			return fmt.Errorf("update %s: %w", id, err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// retryWatch reruns a WATCH transaction while it aborts because a watched key changed.
func retryWatch(attempts int, txn func() error) error {
	for i := 0; i < attempts; i++ {
		err := txn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return errTooMuchContention
}

func decodeEnvironment(data []byte) (*models.Environment, error) {
	var env models.Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &env, nil
}
