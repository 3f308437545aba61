package state

import (
	"log/slog"
	"sync"
	"time"
)

// Dispatch applies an action.
type Dispatch func(Action)

// Middleware wraps the dispatch chain. Every action passes through every
// middleware in registration order.
type Middleware func(next Dispatch) Dispatch

// Store owns a State and serializes every transition through Reduce.
// Subscribers are called after each transition with a copy of the new state,
// outside the store lock, so they may dispatch. Concurrent dispatches may
// deliver out of order; subscribers compare State.Revision to drop older
// snapshots.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int

	dispatch Dispatch
}

// NewStore creates a Store starting from initial.
func NewStore(initial State, middleware ...Middleware) *Store {
	s := &Store{
		state: initial.Clone(),
		subs:  make(map[int]func(State)),
	}
	d := Dispatch(s.apply)
	for i := len(middleware) - 1; i >= 0; i-- {
		d = middleware[i](d)
	}
	s.dispatch = d
	return s
}

// Dispatch sends a through the middleware chain to the reducer.
func (s *Store) Dispatch(a Action) {
	s.dispatch(a)
}

// State returns a deep copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) apply(a Action) {
	s.mu.Lock()
	rev := s.state.Revision + 1
	s.state = Reduce(s.state, a)
	s.state.Revision = rev
	snap := s.state.Clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Clock abstracts time for MeasureMiddleware.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MeasureMiddleware records the duration of every dispatch as a
// RecordDispatch action. A failure while measuring is logged and the
// original action is still applied exactly once.
func MeasureMiddleware(clock Clock) Middleware {
	if clock == nil {
		clock = realClock{}
	}
	return func(next Dispatch) Dispatch {
		return func(a Action) {
			if _, ok := a.(RecordDispatch); ok {
				next(a)
				return
			}

			start, ok := safeNow(clock)
			next(a)
			if !ok {
				return
			}
			end, ok := safeNow(clock)
			if !ok {
				return
			}
			next(RecordDispatch{Action: a.Kind(), Duration: end.Sub(start)})
		}
	}
}

func safeNow(clock Clock) (t time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("dispatch measurement failed", "panic", r)
			ok = false
		}
	}()
	return clock.Now(), true
}

// LogMiddleware logs every action at debug level.
func LogMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Dispatch) Dispatch {
		return func(a Action) {
			if _, ok := a.(RecordDispatch); !ok {
				logger.Debug("dispatch", "action", a.Kind())
			}
			next(a)
		}
	}
}
