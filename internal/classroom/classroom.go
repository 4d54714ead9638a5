// Package classroom keeps a live, read-optimised mirror of the classroom
// collections for the current identity and performs the domain operations
// that change them.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/learnlive/learnlive/internal/grading"
	"github.com/learnlive/learnlive/internal/model"
	"github.com/learnlive/learnlive/internal/store"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCodeGenerationExhausted is returned when every course-code draw collided.
	ErrCodeGenerationExhausted = errors.New("could not generate a unique course code")
)

// Store is the document store the classroom reads and writes.
type Store interface {
	Create(ctx context.Context, collection string, fields store.Fields) (string, error)
	Update(ctx context.Context, collection, id string, fields store.Fields) error
	Get(ctx context.Context, collection, id string) (store.Document, error)
	Query(ctx context.Context, q store.Query) ([]store.Document, error)
	Subscribe(q store.Query, fn func([]store.Document)) (func(), error)
}

// Grader produces AI grade suggestions.
type Grader interface {
	Grade(ctx context.Context, question, expectedAnswer, studentAnswer string) (grading.Result, error)
}

// IdentitySource notifies about sign-in and sign-out.
type IdentitySource interface {
	OnIdentityChange(fn func(*model.Identity)) func()
}

// Classroom is the data-sync and domain-operations layer.
type Classroom struct {
	store    Store
	grader   Grader
	validate *validator.Validate
	now      func() time.Time
	intN     func(n int) int

	mu        sync.Mutex
	identity  model.Identity
	disposers []func()
	gen       int
	snap      *Snapshot
	ready     bool
	pending   map[string]bool
	synced    chan struct{}
	watchers  map[int]func(string)
	nextWatch int
	unbind    func()
	closed    bool
}

// Option configures a Classroom.
type Option func(*Classroom)

// WithClock overrides the clock used for default submission timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Classroom) { c.now = now }
}

// WithRand overrides the random source used for course codes. intN must
// return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(c *Classroom) { c.intN = intN }
}

// New creates a classroom. grader may be nil, in which case AI grading
// requests report an error.
func New(s Store, grader Grader, opts ...Option) *Classroom {
	c := &Classroom{
		store:    s,
		grader:   grader,
		validate: validator.New(),
		now:      time.Now,
		intN:     rand.IntN,
		identity: model.Anonymous(),
		snap:     emptySnapshot(),
		synced:   make(chan struct{}),
		watchers: make(map[int]func(string)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind follows the identity source, reactivating the mirror for every
// identity it reports. Signed-out states use the anonymous placeholder.
func (c *Classroom) Bind(src IdentitySource) {
	unbind := src.OnIdentityChange(func(id *model.Identity) {
		identity := model.Anonymous()
		if id != nil {
			identity = *id
		}
		if err := c.Activate(identity); err != nil {
			slog.Error("failed to activate classroom", "identity", identity.ID, "error", err)
		}
	})
	c.mu.Lock()
	if c.unbind != nil {
		c.unbind()
	}
	c.unbind = unbind
	c.mu.Unlock()
}

// Activate disposes the current subscriptions and opens new ones for id.
func (c *Classroom) Activate(id model.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("classroom is closed")
	}

	c.dispose()
	c.gen++
	c.identity = id
	c.pending = make(map[string]bool)
	c.synced = make(chan struct{})

	gen := c.gen
	for _, q := range subscriptions(id) {
		c.pending[q.Collection] = true
		collection := q.Collection
		stop, err := c.store.Subscribe(q, func(docs []store.Document) {
			c.apply(gen, collection, docs)
		})
		if err != nil {
			c.dispose()
			return fmt.Errorf("subscribe to %s: %w", collection, err)
		}
		c.disposers = append(c.disposers, stop)
	}
	c.ready = true
	slog.Debug("classroom activated", "identity", id.ID)
	return nil
}

func subscriptions(id model.Identity) []store.Query {
	return []store.Query{
		{Collection: model.CollectionCourses, OrderBy: "createdAt", Desc: true},
		{Collection: model.CollectionAssignments},
		{Collection: model.CollectionQuestions},
		{Collection: model.CollectionEnrollments, Where: []store.Filter{{Field: "studentId", Value: id.ID}}},
		{Collection: model.CollectionSubmissions, OrderBy: "tsISO"},
	}
}

// dispose stops all subscriptions. Callers hold c.mu.
func (c *Classroom) dispose() {
	for _, stop := range c.disposers {
		stop()
	}
	c.disposers = nil
}

// Close stops following identity changes and disposes all subscriptions.
func (c *Classroom) Close() {
	c.mu.Lock()
	unbind := c.unbind
	c.unbind = nil
	c.closed = true
	c.ready = false
	c.dispose()
	c.mu.Unlock()

	if unbind != nil {
		unbind()
	}
}

// Ready reports whether the mirror has been wired for an identity.
func (c *Classroom) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Identity returns the identity the mirror is active for.
func (c *Classroom) Identity() model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Snapshot returns the current mirror. The returned value is never modified.
func (c *Classroom) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Watch calls fn with the collection name after each snapshot is applied,
// until the returned function is called. fn may be called concurrently for
// different collections.
func (c *Classroom) Watch(fn func(collection string)) func() {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// WaitSynced blocks until every subscription of the current activation has
// delivered at least once.
func (c *Classroom) WaitSynced(ctx context.Context) error {
	c.mu.Lock()
	ch := c.synced
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Classroom) apply(gen int, collection string, docs []store.Document) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	next := c.snap.with(collection, docs)
	c.snap = next
	if c.pending[collection] {
		delete(c.pending, collection)
		if len(c.pending) == 0 {
			close(c.synced)
		}
	}
	fns := make([]func(string), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(collection)
	}
}

func (c *Classroom) actorID() string {
	id := c.Identity()
	if id.IsAnonymous() {
		return "unknown"
	}
	return id.ID
}
