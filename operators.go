// Basic operator stages: each is a Subscriber to its upstream and forwards
// signals to its downstream, transforming items and demand in transit.
package flowgo

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Map
// ============================================================================

type mapSubscriber struct {
	downstream  Subscriber
	transformer Transformer
	upstream    Subscription
	done        int32
}

func (ms *mapSubscriber) OnSubscribe(s Subscription) {
	ms.upstream = s
	// Map is 1:1, demand passes through untouched.
	ms.downstream.OnSubscribe(s)
}

func (ms *mapSubscriber) OnNext(value any) {
	if atomic.LoadInt32(&ms.done) == 1 {
		return
	}
	result, err := ms.transformer(value)
	if err != nil {
		if atomic.CompareAndSwapInt32(&ms.done, 0, 1) {
			ms.upstream.Cancel()
			ms.downstream.OnError(err)
		}
		return
	}
	ms.downstream.OnNext(result)
}

func (ms *mapSubscriber) OnError(err error) {
	if atomic.CompareAndSwapInt32(&ms.done, 0, 1) {
		ms.downstream.OnError(err)
	}
}

func (ms *mapSubscriber) OnComplete() {
	if atomic.CompareAndSwapInt32(&ms.done, 0, 1) {
		ms.downstream.OnComplete()
	}
}

// ============================================================================
// Filter
// ============================================================================

type filterSubscriber struct {
	downstream Subscriber
	predicate  Predicate
	upstream   Subscription
	done       int32
}

func (fs *filterSubscriber) OnSubscribe(s Subscription) {
	fs.upstream = s
	fs.downstream.OnSubscribe(s)
}

func (fs *filterSubscriber) OnNext(value any) {
	if atomic.LoadInt32(&fs.done) == 1 {
		return
	}
	if fs.predicate(value) {
		fs.downstream.OnNext(value)
		return
	}
	// A dropped item consumed one unit of downstream demand; replace it.
	fs.upstream.Request(1)
}

func (fs *filterSubscriber) OnError(err error) {
	if atomic.CompareAndSwapInt32(&fs.done, 0, 1) {
		fs.downstream.OnError(err)
	}
}

func (fs *filterSubscriber) OnComplete() {
	if atomic.CompareAndSwapInt32(&fs.done, 0, 1) {
		fs.downstream.OnComplete()
	}
}

// ============================================================================
// Take
// ============================================================================

type takeSubscriber struct {
	downstream Subscriber
	remaining  int64
	upstream   Subscription
	mu         sync.Mutex
	done       bool
}

func (ts *takeSubscriber) OnSubscribe(s Subscription) {
	ts.upstream = s
	ts.downstream.OnSubscribe(&takeSubscription{parent: ts, delegate: s})

	if ts.remaining <= 0 {
		ts.mu.Lock()
		ts.done = true
		ts.mu.Unlock()
		s.Cancel()
		ts.downstream.OnComplete()
	}
}

func (ts *takeSubscriber) OnNext(value any) {
	ts.mu.Lock()
	if ts.done {
		ts.mu.Unlock()
		return
	}
	ts.remaining--
	last := ts.remaining == 0
	if last {
		ts.done = true
	}
	ts.mu.Unlock()

	ts.downstream.OnNext(value)
	if last {
		ts.upstream.Cancel()
		ts.downstream.OnComplete()
	}
}

func (ts *takeSubscriber) OnError(err error) {
	ts.mu.Lock()
	if ts.done {
		ts.mu.Unlock()
		return
	}
	ts.done = true
	ts.mu.Unlock()
	ts.downstream.OnError(err)
}

func (ts *takeSubscriber) OnComplete() {
	ts.mu.Lock()
	if ts.done {
		ts.mu.Unlock()
		return
	}
	ts.done = true
	ts.mu.Unlock()
	ts.downstream.OnComplete()
}

// takeSubscription caps forwarded demand at the number of items still to
// be taken, so an unbounded downstream request never turns into unbounded
// upstream production.
type takeSubscription struct {
	parent   *takeSubscriber
	delegate Subscription
}

func (s *takeSubscription) Request(n int64) {
	if n <= 0 {
		s.delegate.Request(n)
		return
	}
	p := s.parent
	p.mu.Lock()
	remaining := p.remaining
	p.mu.Unlock()
	if remaining <= 0 {
		return
	}
	if n > remaining {
		n = remaining
	}
	s.delegate.Request(n)
}

func (s *takeSubscription) Cancel() {
	s.delegate.Cancel()
}

func (s *takeSubscription) IsCancelled() bool {
	return s.delegate.IsCancelled()
}

// ============================================================================
// Side-effect hooks
// ============================================================================

type doOnSubscriber struct {
	downstream Subscriber
	onNext     OnNext
	onError    OnError
	onComplete OnComplete
}

func (ds *doOnSubscriber) OnSubscribe(s Subscription) {
	ds.downstream.OnSubscribe(s)
}

func (ds *doOnSubscriber) OnNext(value any) {
	if ds.onNext != nil {
		ds.onNext(value)
	}
	ds.downstream.OnNext(value)
}

func (ds *doOnSubscriber) OnError(err error) {
	if ds.onError != nil {
		ds.onError(err)
	}
	ds.downstream.OnError(err)
}

func (ds *doOnSubscriber) OnComplete() {
	if ds.onComplete != nil {
		ds.onComplete()
	}
	ds.downstream.OnComplete()
}
