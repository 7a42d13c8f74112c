// Package registry holds the in-memory collection of extracurricular activities and their
// rosters. A single Registry is created at startup from Seed and handed to the HTTP layer;
// it is never persisted, so every restart begins again from the seed.
//
// All roster mutations run under one write lock covering the whole check-then-mutate step,
// which keeps the capacity and no-duplicate invariants intact under concurrent requests.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mergington/activities/internal/validation"
)

// Activity is a single extracurricular offering and its current roster.
type Activity struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// clone returns a copy whose Participants slice does not alias the original.
func (a Activity) clone() Activity {
	a.Participants = slices.Clone(a.Participants)
	if a.Participants == nil {
		a.Participants = []string{}
	}
	return a
}

// EventKind identifies the roster mutation reported to observers.
type EventKind string

const (
	EventSignup     EventKind = "signup"
	EventUnregister EventKind = "unregister"
)

// Event describes a successful roster mutation.
type Event struct {
	Kind            EventKind
	Activity        string // canonical name
	Email           string
	Participants    int
	MaxParticipants int
	At              time.Time
}

// Observer is notified after every successful signup or unregister. Observers are invoked
// after the registry lock is released, in registration order.
type Observer interface {
	ActivityChanged(ctx context.Context, ev Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// ActivityChanged calls f(ctx, ev).
func (f ObserverFunc) ActivityChanged(ctx context.Context, ev Event) { f(ctx, ev) }

// Result confirms a successful roster mutation.
type Result struct {
	Activity string `json:"activity"`
	Email    string `json:"email"`
	Message  string `json:"message"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmailDomain overrides the accepted email domain suffix (default "@mergington.edu").
func WithEmailDomain(domain string) Option {
	return func(r *Registry) {
		if domain != "" {
			r.emailDomain = domain
		}
	}
}

// WithObserver registers an observer for roster mutations.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// Registry owns every Activity record.
type Registry struct {
	mu          sync.RWMutex
	activities  map[string]*Activity
	index       map[string]string // lower-cased name -> canonical name
	emailDomain string
	observers   []Observer
	now         func() time.Time
}

// New builds a Registry from the supplied activities. The input map is copied.
func New(activities map[string]Activity, opts ...Option) *Registry {
	r := &Registry{
		activities:  make(map[string]*Activity, len(activities)),
		index:       make(map[string]string, len(activities)),
		emailDomain: validation.DefaultEmailDomain,
		now:         time.Now,
	}
	for name, a := range activities {
		copied := a.clone()
		r.activities[name] = &copied
		r.index[strings.ToLower(name)] = name
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EmailDomain returns the domain suffix every registered email must carry.
func (r *Registry) EmailDomain() string {
	return r.emailDomain
}

// Len returns the number of activities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activities)
}

// List returns a snapshot of every activity keyed by canonical name.
func (r *Registry) List() map[string]Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Activity, len(r.activities))
	for name, a := range r.activities {
		out[name] = a.clone()
	}
	return out
}

// Get returns the canonical name and a snapshot of the activity matching name
// case-insensitively.
func (r *Registry) Get(name string) (string, Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, a, ok := r.lookup(name)
	if !ok {
		return "", Activity{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return canonical, a.clone(), nil
}

// Signup adds email to the roster of the named activity. Checks run in a fixed order and
// the first failure wins: email format, activity existence, duplicate, capacity.
func (r *Registry) Signup(ctx context.Context, activityName, email string) (*Result, error) {
	if err := validation.ValidateEmail(email, r.emailDomain); err != nil {
		return nil, err
	}

	r.mu.Lock()
	canonical, a, ok := r.lookup(activityName)
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, activityName)
	}
	if slices.Contains(a.Participants, email) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateSignup, email, canonical)
	}
	if len(a.Participants) >= a.MaxParticipants {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%d/%d)", ErrActivityFull, canonical, len(a.Participants), a.MaxParticipants)
	}
	a.Participants = append(a.Participants, email)
	ev := r.event(EventSignup, canonical, email, a)
	r.mu.Unlock()

	r.notify(ctx, ev)
	return &Result{
		Activity: canonical,
		Email:    email,
		Message:  fmt.Sprintf("Signed up %s for %s", email, canonical),
	}, nil
}

// Unregister removes email from the roster of the named activity. Checks run in order:
// email format, activity existence, membership.
func (r *Registry) Unregister(ctx context.Context, activityName, email string) (*Result, error) {
	if err := validation.ValidateEmail(email, r.emailDomain); err != nil {
		return nil, err
	}

	r.mu.Lock()
	canonical, a, ok := r.lookup(activityName)
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, activityName)
	}
	idx := slices.Index(a.Participants, email)
	if idx < 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrNotRegistered, email, canonical)
	}
	a.Participants = slices.Delete(a.Participants, idx, idx+1)
	ev := r.event(EventUnregister, canonical, email, a)
	r.mu.Unlock()

	r.notify(ctx, ev)
	return &Result{
		Activity: canonical,
		Email:    email,
		Message:  fmt.Sprintf("Unregistered %s from %s", email, canonical),
	}, nil
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(name string) (string, *Activity, bool) {
	canonical, ok := r.index[strings.ToLower(name)]
	if !ok {
		return "", nil, false
	}
	return canonical, r.activities[canonical], true
}

func (r *Registry) event(kind EventKind, canonical, email string, a *Activity) Event {
	return Event{
		Kind:            kind,
		Activity:        canonical,
		Email:           email,
		Participants:    len(a.Participants),
		MaxParticipants: a.MaxParticipants,
		At:              r.now().UTC(),
	}
}

func (r *Registry) notify(ctx context.Context, ev Event) {
	for _, o := range r.observers {
		o.ActivityChanged(ctx, ev)
	}
}
