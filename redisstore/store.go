// Package redisstore keeps the derived info records in Redis: one JSON value
// per id under "info:{id}", plus an "info:ids" set used to enumerate the
// store without scanning the keyspace.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/sunpetal/galmirror"
)

const idsKey = "info:ids"

func infoKey(id galmirror.ID) string {
	return fmt.Sprintf("info:%d", id)
}

// Store implements galmirror.InfoStore on Redis.
type Store struct {
	client redis.UniversalClient
}

// Open connects to the Redis at url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewStore(client), nil
}

// NewStore wraps an existing client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Info(ctx context.Context, id galmirror.ID) (*galmirror.Info, error) {
	data, err := s.client.Get(ctx, infoKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("info %d: %w", id, galmirror.ErrInfoNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading info %d: %w", id, err)
	}

	var info galmirror.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding info %d: %w", id, err)
	}
	return &info, nil
}

// Create stores info, replacing any record already present under its id. The
// value and the id-set entry are written in one transaction so AllIDs never
// sees an id without a value.
func (s *Store) Create(ctx context.Context, info *galmirror.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding info %d: %w", info.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, infoKey(info.ID), data, 0)
		pipe.SAdd(ctx, idsKey, int64(info.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing info %d: %w", info.ID, err)
	}
	return nil
}

// Delete removes the record for id. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id galmirror.ID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, infoKey(id))
		pipe.SRem(ctx, idsKey, int64(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting info %d: %w", id, err)
	}
	return nil
}

func (s *Store) AllIDs(ctx context.Context) ([]galmirror.ID, error) {
	members, err := s.client.SMembers(ctx, idsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing info ids: %w", err)
	}

	ids := make([]galmirror.ID, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt id %q in %s: %w", m, idsKey, err)
		}
		ids = append(ids, galmirror.ID(n))
	}
	return ids, nil
}
