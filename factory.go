// Factory functions creating Flowables from in-memory data.
package flowgo

import (
	"sync/atomic"
)

// ============================================================================
// Basic sources
// ============================================================================

// Just creates a Flowable emitting the given values in order.
func Just(values ...any) Flowable {
	return FromSlice(values)
}

// FromSlice creates a Flowable emitting the slice elements in order,
// respecting requested demand, and completing after the last element.
func FromSlice(values []any) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(newCursorSubscription(subscriber, int64(len(values)), func(i int64) any {
			return values[i]
		}))
	})
}

// Range creates a Flowable emitting count consecutive integers starting
// at start.
func Range(start, count int) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(newCursorSubscription(subscriber, int64(count), func(i int64) any {
			return start + int(i)
		}))
	})
}

// Empty creates a Flowable that completes on the first request without
// emitting any item.
func Empty() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		done := int32(0)
		var subscription Subscription
		subscription = NewSubscription(func(n int64) {
			if n <= 0 {
				subscription.Cancel()
				subscriber.OnError(&InvalidDemandError{Requested: n})
				return
			}
			if atomic.CompareAndSwapInt32(&done, 0, 1) {
				subscriber.OnComplete()
			}
		}, nil)
		subscriber.OnSubscribe(subscription)
	})
}

// Never creates a Flowable that never emits and never terminates.
func Never() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(NewSubscription(nil, nil))
	})
}

// Error creates a Flowable that fails with err on the first request.
func Error(err error) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		done := int32(0)
		subscriber.OnSubscribe(NewSubscription(func(int64) {
			if atomic.CompareAndSwapInt32(&done, 0, 1) {
				subscriber.OnError(err)
			}
		}, nil))
	})
}

// Defer creates a Flowable that assembles a fresh inner Flowable for each
// subscriber at subscribe time.
func Defer(factory func() Flowable) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		factory().Subscribe(subscriber)
	})
}

// FromChannel creates a Flowable that pulls from ch under demand. Channel
// close terminates the sequence with OnComplete. The channel is read by a
// dedicated goroutine started on the first request.
func FromChannel(ch <-chan any) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(&channelSubscription{
			actual: subscriber,
			ch:     ch,
			wake:   make(chan struct{}, 1),
			done:   make(chan struct{}),
		})
	})
}

// ============================================================================
// Cursor-backed subscription (FromSlice, Range)
// ============================================================================

// cursorSubscription walks a fixed, indexable sequence under demand.
// Emission is serialized by a work-in-progress counter so that reentrant
// or concurrent Request calls never interleave OnNext deliveries.
type cursorSubscription struct {
	actual    Subscriber
	at        func(i int64) any
	count     int64
	index     int64
	requested int64
	cancelled int32
	wip       int32
}

func newCursorSubscription(actual Subscriber, count int64, at func(i int64) any) *cursorSubscription {
	return &cursorSubscription{actual: actual, at: at, count: count}
}

func (s *cursorSubscription) Request(n int64) {
	if s.IsCancelled() {
		return
	}
	if n <= 0 {
		s.Cancel()
		s.actual.OnError(&InvalidDemandError{Requested: n})
		return
	}
	addCap(&s.requested, n)
	s.drain()
}

func (s *cursorSubscription) Cancel() {
	atomic.StoreInt32(&s.cancelled, 1)
}

func (s *cursorSubscription) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

func (s *cursorSubscription) drain() {
	if atomic.AddInt32(&s.wip, 1) != 1 {
		// Another frame is draining; it will observe the added demand.
		return
	}

	missed := int32(1)
	for {
		requested := atomic.LoadInt64(&s.requested)
		emitted := int64(0)

		for {
			if s.IsCancelled() {
				return
			}
			if s.index >= s.count {
				// Exhausted, possibly without ever emitting. The terminal
				// signal needs no outstanding demand to be delivered.
				if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
					s.actual.OnComplete()
				}
				return
			}
			if emitted >= requested {
				break
			}
			i := s.index
			s.index = i + 1
			s.actual.OnNext(s.at(i))
			emitted++
		}

		if emitted > 0 {
			produced(&s.requested, emitted)
		}

		missed = atomic.AddInt32(&s.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

// ============================================================================
// Channel-backed subscription (FromChannel)
// ============================================================================

type channelSubscription struct {
	actual    Subscriber
	ch        <-chan any
	requested int64
	cancelled int32
	started   int32
	wake      chan struct{}
	done      chan struct{}
}

func (s *channelSubscription) Request(n int64) {
	if s.IsCancelled() {
		return
	}
	if n <= 0 {
		s.Cancel()
		s.actual.OnError(&InvalidDemandError{Requested: n})
		return
	}
	addCap(&s.requested, n)
	if atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		go s.loop()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *channelSubscription) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		close(s.done)
	}
}

func (s *channelSubscription) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

func (s *channelSubscription) loop() {
	for {
		if s.IsCancelled() {
			return
		}
		if atomic.LoadInt64(&s.requested) == 0 {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}
		select {
		case value, ok := <-s.ch:
			if !ok {
				if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
					s.actual.OnComplete()
				}
				return
			}
			s.actual.OnNext(value)
			produced(&s.requested, 1)
		case <-s.done:
			return
		}
	}
}
