// Package redisstore keeps store documents in Redis. Every path resolves to a
// document key made of its first two segments (rooms/ABC123,
// questions/couple, leaderboard/friend). Updates run as WATCH/MULTI
// transactions that also PUBLISH the new versioned document, so
// subscribers see updates in commit order.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/vibecheck/internal/store"
)

const (
	docSegments = 2
	maxRetries  = 16
)

type envelope struct {
	Version int64 `json:"v"`
	Data    any   `json:"d"`
}

type Store struct {
	rdb    *redis.Client
	prefix string
	log    zerolog.Logger
}

type Option func(*Store)

func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "vibecheck:", log: log.Logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect dials Redis and checks the connection with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", store.ErrUnavailable, err)
	}
	return rdb, nil
}

func (s *Store) docKey(segs []string) string {
	return s.prefix + "doc:" + store.Join(segs[:docSegments]...)
}

func (s *Store) channel(segs []string) string {
	return s.prefix + "chan:" + store.Join(segs[:docSegments]...)
}

func split(path string) ([]string, error) {
	segs, err := store.Split(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < docSegments {
		return nil, fmt.Errorf("%w: %q is above document level", store.ErrInvalidPath, path)
	}
	return segs, nil
}

func decode(raw []byte) (envelope, error) {
	var env envelope
	if len(raw) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode document: %w", err)
	}
	return env, nil
}

func (s *Store) Read(ctx context.Context, path string) (any, bool, error) {
	segs, err := split(path)
	if err != nil {
		return nil, false, err
	}
	raw, err := s.rdb.Get(ctx, s.docKey(segs)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	env, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	v, ok := store.Get(env.Data, segs[docSegments:])
	return v, ok, nil
}

func (s *Store) Write(ctx context.Context, path string, value any) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return err
	}
	rel := segs[docSegments:]
	return s.mutate(ctx, segs, func(doc any) any { return store.Set(doc, rel, v) })
}

func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	type change struct {
		rel   []string
		value any
	}
	changes := make([]change, 0, len(fields))
	for k, raw := range fields {
		rel, err := store.Split(k)
		if err != nil || len(rel) == 0 {
			return store.ErrInvalidPath
		}
		v, err := store.Normalize(raw)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segs[docSegments:]...), rel...)
		changes = append(changes, change{rel: full, value: v})
	}
	return s.mutate(ctx, segs, func(doc any) any {
		for _, c := range changes {
			doc = store.Set(doc, c.rel, c.value)
		}
		return doc
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Write(ctx, path, nil)
}

func (s *Store) AppendChild(ctx context.Context, path string, value any) (string, error) {
	key := store.NewKey()
	if err := s.Write(ctx, store.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// mutate applies fn to the document optimistically, retrying when another
// writer touched the key between GET and EXEC.
func (s *Store) mutate(ctx context.Context, segs []string, fn func(doc any) any) error {
	key := s.docKey(segs)
	ch := s.channel(segs)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		env, err := decode(raw)
		if err != nil {
			return err
		}
		next := envelope{Version: env.Version + 1, Data: fn(env.Data)}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		// Deleted documents are kept as tombstones; versions never reset.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.Publish(ctx, ch, b)
			return nil
		})
		return err
	}
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: too much contention on %s", store.ErrUnavailable, key)
}

func (s *Store) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	segs, err := split(path)
	if err != nil {
		return nil, err
	}
	ps := s.rdb.Subscribe(ctx, s.channel(segs))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", store.ErrUnavailable, err)
	}

	var closeOnce sync.Once
	sub := store.NewSubscription(path, func() {
		closeOnce.Do(func() { _ = ps.Close() })
	})

	raw, err := s.rdb.Get(ctx, s.docKey(segs)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		sub.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	env, err := decode(raw)
	if err != nil {
		sub.Close()
		return nil, err
	}

	rel := segs[docSegments:]
	f := &follower{sub: sub, rel: rel, version: -1}
	f.offer(env)
	go f.follow(ps.Channel(), s.log)
	return sub.Bind(ctx), nil
}

type follower struct {
	sub     *store.Subscription
	rel     []string
	version int64
	last    any
	exists  bool
	primed  bool
}

func (f *follower) follow(msgs <-chan *redis.Message, logger zerolog.Logger) {
	for {
		select {
		case <-f.sub.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				f.sub.Close()
				return
			}
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				logger.Warn().Err(err).Str("path", f.sub.Path()).Msg("dropping malformed document")
				continue
			}
			f.offer(env)
		}
	}
}

// offer delivers the document if it is newer than what was seen and the
// watched subtree actually changed.
func (f *follower) offer(env envelope) {
	if env.Version <= f.version {
		return
	}
	f.version = env.Version
	v, ok := store.Get(env.Data, f.rel)
	if f.primed && ok == f.exists && store.Equal(v, f.last) {
		return
	}
	f.primed = true
	f.last, f.exists = v, ok
	f.sub.Deliver(store.Snapshot{Path: f.sub.Path(), Value: v, Exists: ok})
}
