// Package store defines the realtime document store shared by every client
// of a room, and an in-memory implementation of it.
//
// Values are JSON-shaped trees (map[string]any, []any, string, float64, bool).
// Writing nil to a path deletes it, and objects left empty are pruned.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrUnavailable = errors.New("store unavailable")
	ErrInvalidPath = errors.New("invalid store path")
)

type Store interface {
	Read(ctx context.Context, path string) (value any, exists bool, err error)
	Write(ctx context.Context, path string, value any) error
	// Patch applies every field, keyed by a path relative to path, as one
	// update. A nil field value deletes that child.
	Patch(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// AppendChild stores value under a new, time-ordered key below path.
	AppendChild(ctx context.Context, path string, value any) (string, error)
	// Subscribe streams the full value at path, starting with the current one.
	// The subscription ends when it is closed or ctx is done.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

type Snapshot struct {
	Path   string
	Value  any
	Exists bool
}

// Subscription is an ordered, unbounded stream of snapshots. Deliver never
// blocks the writer; a pump goroutine hands snapshots to C in order.
type Subscription struct {
	C <-chan Snapshot

	path    string
	out     chan Snapshot
	mu      sync.Mutex
	queue   []Snapshot
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
	release func()
}

// NewSubscription starts the pump for a subscription on path. release runs
// once on Close and should detach the subscription from its source.
func NewSubscription(path string, release func()) *Subscription {
	out := make(chan Snapshot)
	s := &Subscription{
		C:       out,
		path:    path,
		out:     out,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		release: release,
	}
	go s.pump()
	return s
}

func (s *Subscription) Path() string { return s.path }

// Deliver enqueues a snapshot. It is a no-op after Close.
func (s *Subscription) Deliver(snap Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Close releases the subscription. C is closed once the pump exits; queued
// snapshots are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// Done is closed when the subscription has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Bind closes the subscription when ctx is done.
func (s *Subscription) Bind(ctx context.Context) *Subscription {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}

// Split validates a slash separated path and returns its segments. The empty
// path is the root.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, ErrInvalidPath
		}
	}
	return segs, nil
}

func Join(segs ...string) string {
	return strings.Join(segs, "/")
}
