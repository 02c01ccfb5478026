// Package flowgo implements a demand-driven asynchronous sequence engine:
// publishers that emit only what subscribers have requested, composable
// operator stages that preserve the demand protocol, and schedulers that
// move processing across goroutines without breaking ordering guarantees.
package flowgo

import (
	"math"
	"sync/atomic"
)

// ============================================================================
// Core contracts
// ============================================================================

// Subscription is the per-binding control channel between a Subscriber and
// a Publisher. It carries demand and cancellation upstream; it is the only
// way a consumer influences production.
type Subscription interface {
	// Request asks the publisher for n more items. n must be positive;
	// a non-positive n cancels the subscription and is reported to the
	// subscriber via OnError as *InvalidDemandError.
	Request(n int64)
	// Cancel stops production. Idempotent, safe to call from any
	// goroutine, including from inside OnNext.
	Cancel()
	// IsCancelled reports whether Cancel has been called.
	IsCancelled() bool
}

// Subscriber consumes a sequence. OnSubscribe is invoked exactly once
// before any other signal; after that, any number of OnNext calls are
// followed by at most one OnError or OnComplete, never both.
type Subscriber interface {
	OnSubscribe(s Subscription)
	OnNext(value any)
	OnError(err error)
	OnComplete()
}

// Publisher produces a sequence of items on demand.
type Publisher interface {
	// Subscribe binds the subscriber and synchronously invokes its
	// OnSubscribe. No items are emitted until the subscriber requests
	// demand through the provided Subscription.
	Subscribe(subscriber Subscriber)
}

// ============================================================================
// Callback function types
// ============================================================================

// OnNext handles the next value of a sequence.
type OnNext func(value any)

// OnError handles the terminal error of a sequence.
type OnError func(err error)

// OnComplete handles normal sequence completion.
type OnComplete func()

// Transformer maps one value to another, or fails.
type Transformer func(value any) (any, error)

// Predicate decides whether a value passes a filter.
type Predicate func(value any) bool

// ============================================================================
// Demand accounting
// ============================================================================

// RequestUnbounded is the demand value that disables backpressure for a
// subscription. Demand additions saturate here rather than overflowing.
const RequestUnbounded = math.MaxInt64

// addCap atomically adds n to the demand counter at addr, saturating at
// RequestUnbounded. It returns the value before the addition.
func addCap(addr *int64, n int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		if current == RequestUnbounded {
			return current
		}
		next := current + n
		if next < 0 {
			next = RequestUnbounded
		}
		if atomic.CompareAndSwapInt64(addr, current, next) {
			return current
		}
	}
}

// produced atomically subtracts n delivered items from the demand counter
// at addr and returns the remaining demand. Unbounded demand stays
// unbounded.
func produced(addr *int64, n int64) int64 {
	for {
		current := atomic.LoadInt64(addr)
		if current == RequestUnbounded {
			return RequestUnbounded
		}
		next := current - n
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(addr, current, next) {
			return next
		}
	}
}

// ============================================================================
// Disposable resources
// ============================================================================

// Disposable is a releasable resource, typically a scheduled task handle.
type Disposable interface {
	Dispose()
	IsDisposed() bool
}

// baseDisposable runs an action exactly once on disposal.
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewDisposable creates a Disposable that invokes action on the first
// Dispose call. A nil action is allowed.
func NewDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// ============================================================================
// Base subscription
// ============================================================================

// callbackSubscription is a Subscription backed by request/cancel hooks.
// Demand validation is left to the owning source, which is the only party
// that can report InvalidDemandError to its subscriber.
type callbackSubscription struct {
	cancelled int32
	onRequest func(int64)
	onCancel  func()
}

// NewSubscription creates a Subscription that forwards Request to
// onRequest and runs onCancel once on the first Cancel.
func NewSubscription(onRequest func(int64), onCancel func()) Subscription {
	return &callbackSubscription{onRequest: onRequest, onCancel: onCancel}
}

func (s *callbackSubscription) Request(n int64) {
	if s.IsCancelled() {
		return
	}
	if s.onRequest != nil {
		s.onRequest(n)
	}
}

func (s *callbackSubscription) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		if s.onCancel != nil {
			s.onCancel()
		}
	}
}

func (s *callbackSubscription) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

// ============================================================================
// Configuration
// ============================================================================

// Config carries assembly-time settings for a Flowable.
type Config struct {
	// BufferSize is the default prefetch and internal queue capacity
	// used by operators that buffer, unless overridden per operator.
	BufferSize int
}

// Option mutates a Config at assembly time.
type Option interface {
	Apply(config *Config)
}

// DefaultConfig returns the settings used when no options are given.
func DefaultConfig() *Config {
	return &Config{BufferSize: 32}
}

type bufferSizeOption struct{ size int }

func (o bufferSizeOption) Apply(config *Config) {
	if o.size > 0 {
		config.BufferSize = o.size
	}
}

// WithBufferSize overrides the default buffer capacity for buffering
// operators assembled from this Flowable.
func WithBufferSize(size int) Option {
	return bufferSizeOption{size: size}
}
