// Package debounce provides a trailing-edge debouncer that carries the most
// recent value to its callback.
package debounce

import (
	"log/slog"
	"sync"
	"time"
)

// Timer is the handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer delays fn until Trigger has not been called for delay. Rapid
// successive calls reset the timer and only the last value is delivered.
//
// Every Trigger, Cancel and Flush bumps a generation counter; a timer that
// fires for an older generation is ignored, so a callback that lost the race
// with Stop never runs.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)
	sched Scheduler

	mu      sync.Mutex
	timer   Timer
	gen     uint64
	pending bool
	value   T
}

// Option configures a Debouncer.
type Option func(*options)

type options struct {
	sched Scheduler
}

// WithScheduler replaces the timer source, for tests.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// New creates a Debouncer that calls fn with the last triggered value.
func New[T any](delay time.Duration, fn func(T), opts ...Option) *Debouncer[T] {
	o := options{sched: realScheduler{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Debouncer[T]{delay: delay, fn: fn, sched: o.sched}
}

// Trigger records v and (re)starts the timer.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.value = v
	d.pending = true
	d.timer = d.sched.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Cancel drops the pending call, if any. Returns whether one was pending.
func (d *Debouncer[T]) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

// Flush runs the pending call now, on the caller's goroutine. Returns false
// when nothing was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	v := d.value
	d.cancelLocked()
	d.mu.Unlock()

	d.run(v)
	return true
}

// Pending reports whether a call is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer[T]) cancelLocked() bool {
	was := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
	var zero T
	d.value = zero
	return was
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.timer = nil
	var zero T
	d.value = zero
	d.mu.Unlock()

	d.run(v)
}

func (d *Debouncer[T]) run(v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debounced callback panicked", "panic", r)
		}
	}()
	d.fn(v)
}
