package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"patient-intake/internal/domain"
)

// UpdateFunc receives the current session (nil if none) and returns the next
// one. Returning nil removes the session.
type UpdateFunc func(ctx context.Context, current domain.Session) (domain.Session, error)

// Registry maps conversation IDs to in-progress sessions. All mutation goes
// through Update, which serializes calls for the same conversation while
// letting different conversations proceed independently.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	idleTimeout time.Duration
	now         func() time.Time
}

type entry struct {
	// lock is a one-slot semaphore so waiting can be abandoned via ctx.
	lock      chan struct{}
	refs      int
	session   domain.Session
	touchedAt time.Time
}

type Option func(*Registry)

// WithIdleTimeout makes sessions untouched for longer than d behave as absent.
// Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update runs fn inside the critical section of conversationID and stores its
// result. If fn returns an error the stored session is left unchanged.
func (r *Registry) Update(ctx context.Context, conversationID string, fn UpdateFunc) error {
	if fn == nil {
		return errors.New("session: update func must not be nil")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errors.New("session: conversation id is required")
	}

	e := r.acquire(conversationID)
	defer r.release(conversationID, e)

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("session: wait for %q: %w", conversationID, ctx.Err())
	}
	defer func() { <-e.lock }()

	current := e.session
	if current != nil && r.expired(e) {
		current = nil
	}

	next, err := fn(ctx, current)
	if err != nil {
		return err
	}
	// Written under r.mu as well so Len and release can read it.
	r.mu.Lock()
	e.session = next
	e.touchedAt = r.now()
	r.mu.Unlock()
	return nil
}

// Get returns the current session for conversationID, or nil. It waits for
// any in-flight update of the conversation but does not refresh its idle
// time or drop an expired session.
func (r *Registry) Get(ctx context.Context, conversationID string) (domain.Session, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("session: conversation id is required")
	}

	e := r.acquire(conversationID)
	defer r.release(conversationID, e)

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("session: wait for %q: %w", conversationID, ctx.Err())
	}
	defer func() { <-e.lock }()

	if e.session == nil || r.expired(e) {
		return nil, nil
	}
	return e.session, nil
}

// Len returns the number of stored sessions, including expired ones not yet
// observed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.session != nil {
			n++
		}
	}
	return n
}

func (r *Registry) acquire(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1)}
		r.entries[id] = e
	}
	e.refs++
	return e
}

// release drops the entry once nobody holds or waits on it and it carries no
// session.
func (r *Registry) release(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.session == nil {
		delete(r.entries, id)
	}
}

func (r *Registry) expired(e *entry) bool {
	if r.idleTimeout <= 0 {
		return false
	}
	return r.now().Sub(e.touchedAt) > r.idleTimeout
}
