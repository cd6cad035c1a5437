// Package redisstore is a docstore backend on Redis. Documents are hashes,
// collections are sets of ids, commits use WATCH/MULTI for optimistic
// concurrency, and changes are published on one pub/sub channel per
// collection inside the same MULTI block as the writes.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "docstore:"

type Store struct {
	client *redis.Client
	prefix string
	bus    *Bus
}

// New wraps an existing client. The caller keeps ownership of the client.
func New(client *redis.Client) *Store {
	return &Store{
		client: client,
		prefix: defaultPrefix,
		bus:    NewBus(client, defaultPrefix),
	}
}

func (s *Store) docKey(k docstore.Key) string     { return s.prefix + "doc:" + k.Path() }
func (s *Store) colKey(collection string) string { return s.prefix + "col:" + collection }
func (s *Store) seqKey() string                  { return s.prefix + "seq" }

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Store) read(ctx context.Context, r hashReader, key docstore.Key) (*docstore.Document, error) {
	vals, err := r.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return nil, err
	}
	return decodeDoc(key, vals)
}

func (s *Store) Get(ctx context.Context, key docstore.Key) (*docstore.Document, error) {
	doc, err := s.read(ctx, s.client, key)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, unavailable(err)
	}
	return doc, err
}

func (s *Store) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	ids, err := s.client.SMembers(ctx, s.colKey(collection)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(docstore.Key{Collection: collection, ID: id}))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	docs := make([]*docstore.Document, 0, len(ids))
	for i, cmd := range cmds {
		doc, err := decodeDoc(docstore.Key{Collection: collection, ID: ids[i]}, cmd.Val())
		if errors.Is(err, docstore.ErrNotFound) {
			// index entry for a document deleted between SMEMBERS and HGETALL
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	docstore.SortByCreateTime(docs)
	return docs, nil
}

func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	keys := make([]string, 0, b.Len())
	for _, k := range b.Keys() {
		keys = append(keys, s.docKey(k))
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current := make(map[docstore.Key]*docstore.Document, b.Len())
		for _, k := range b.Keys() {
			doc, err := s.read(ctx, tx, k)
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			current[k] = doc
		}

		version, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return err
		}

		changes, err := docstore.Plan(b.Ops(), current, version, now.UTC())
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, c := range changes {
				if err := s.stage(ctx, pipe, c); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}, keys...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	case errors.Is(err, docstore.ErrConflict),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, docstore.ErrInvalidBatch):
		return err
	default:
		return unavailable(err)
	}
}

func (s *Store) stage(ctx context.Context, pipe redis.Pipeliner, c docstore.Change) error {
	docKey := s.docKey(c.Key)
	colKey := s.colKey(c.Key.Collection)
	if c.Type == docstore.Removed {
		pipe.Del(ctx, docKey)
		pipe.SRem(ctx, colKey, c.Key.ID)
	} else {
		d := c.Document
		pipe.HSet(ctx, docKey,
			"data", string(d.Data),
			"version", d.Version,
			"ctime", d.CreateTime.UnixNano(),
			"utime", d.UpdateTime.UnixNano(),
		)
		pipe.SAdd(ctx, colKey, c.Key.ID)
	}
	payload, err := docstore.EncodeChange(c)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, s.bus.channel(c.Key.Collection), payload)
	return nil
}

func (s *Store) Watch(ctx context.Context, collection string) (docstore.Stream, error) {
	return s.bus.Subscribe(ctx, collection)
}

// Close is a no-op; the client belongs to the caller.
func (s *Store) Close() error {
	return nil
}

func decodeDoc(key docstore.Key, vals map[string]string) (*docstore.Document, error) {
	if len(vals) == 0 {
		return nil, docstore.ErrNotFound
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s version: %w", key, err)
	}
	ctime, err := strconv.ParseInt(vals["ctime"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s ctime: %w", key, err)
	}
	utime, err := strconv.ParseInt(vals["utime"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s utime: %w", key, err)
	}
	return &docstore.Document{
		Key:        key,
		Data:       []byte(vals["data"]),
		Version:    version,
		CreateTime: time.Unix(0, ctime).UTC(),
		UpdateTime: time.Unix(0, utime).UTC(),
	}, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
}
