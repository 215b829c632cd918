package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NewKey returns a child key whose lexical order follows creation time.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

type memSub struct {
	segs   []string
	sub    *Subscription
	last   any
	exists bool
}

// Memory is a single-process Store. All mutations are serialized and every
// overlapping subscriber sees snapshots in mutation order.
type Memory struct {
	mu     sync.Mutex
	root   any
	subs   map[uint64]*memSub
	nextID uint64
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[uint64]*memSub)}
}

func (m *Memory) Read(ctx context.Context, path string) (any, bool, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := Get(m.root, segs)
	return v, ok, nil
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	m.apply(segs, func(root any) any { return Set(root, segs, v) })
	return nil
}

func (m *Memory) Patch(ctx context.Context, path string, fields map[string]any) error {
	segs, err := Split(path)
	if err != nil {
		return err
	}
	type change struct {
		segs  []string
		value any
	}
	changes := make([]change, 0, len(fields))
	for k, raw := range fields {
		rel, err := Split(k)
		if err != nil || len(rel) == 0 {
			return ErrInvalidPath
		}
		v, err := Normalize(raw)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segs...), rel...)
		changes = append(changes, change{segs: full, value: v})
	}
	m.apply(segs, func(root any) any {
		for _, c := range changes {
			root = Set(root, c.segs, c.value)
		}
		return root
	})
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *Memory) AppendChild(ctx context.Context, path string, value any) (string, error) {
	key := NewKey()
	if err := m.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	sub := NewSubscription(path, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	})
	ms := &memSub{segs: segs, sub: sub}
	m.subs[id] = ms
	v, ok := Get(m.root, segs)
	ms.last, ms.exists = v, ok
	sub.Deliver(Snapshot{Path: path, Value: v, Exists: ok})
	return sub.Bind(ctx), nil
}

// Subscribers reports the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) apply(segs []string, fn func(root any) any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = fn(m.root)
	for _, ms := range m.subs {
		if !overlaps(ms.segs, segs) {
			continue
		}
		v, ok := Get(m.root, ms.segs)
		if ok == ms.exists && Equal(v, ms.last) {
			continue
		}
		ms.last, ms.exists = v, ok
		ms.sub.Deliver(Snapshot{Path: ms.sub.Path(), Value: v, Exists: ok})
	}
}
