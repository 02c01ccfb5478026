// FlatMap stage: maps each outer item to an inner Flowable and merges a
// bounded number of concurrently subscribed inner sequences into one
// interleaved downstream sequence.
package flowgo

import (
	"sync"
	"sync/atomic"
)

// flatMapSubscriber tracks up to concurrency active inner subscriptions.
// Outer items arriving while every slot is taken wait in a FIFO pending
// queue; a freed slot always admits the oldest pending item. Downstream
// ordering is interleaved by design: per-inner order is preserved, order
// across inner sequences is not.
type flatMapSubscriber struct {
	downstream  Subscriber
	mapper      func(value any) Flowable
	concurrency int

	mu        sync.Mutex
	upstream  Subscription
	inners    map[*flatMapInner]struct{}
	pending   []any
	outerDone bool
	errSignal error
	cancelled bool
	done      bool
	needOuter int

	requested int64
	wip       int32
}

func newFlatMapSubscriber(downstream Subscriber, mapper func(value any) Flowable, concurrency int) *flatMapSubscriber {
	return &flatMapSubscriber{
		downstream:  downstream,
		mapper:      mapper,
		concurrency: concurrency,
		inners:      make(map[*flatMapInner]struct{}),
	}
}

// ============================================================================
// Outer signals
// ============================================================================

func (f *flatMapSubscriber) OnSubscribe(s Subscription) {
	f.mu.Lock()
	f.upstream = s
	f.mu.Unlock()

	f.downstream.OnSubscribe(&flatMapSubscription{parent: f})
	// One outer item per concurrency slot; replenished as inners finish.
	s.Request(int64(f.concurrency))
}

func (f *flatMapSubscriber) OnNext(value any) {
	f.mu.Lock()
	if f.done || f.cancelled || f.errSignal != nil {
		f.mu.Unlock()
		return
	}
	if len(f.inners) >= f.concurrency {
		f.pending = append(f.pending, value)
		f.mu.Unlock()
		return
	}
	inner := &flatMapInner{parent: f}
	f.inners[inner] = struct{}{}
	f.mu.Unlock()

	f.mapper(value).Subscribe(inner)
}

func (f *flatMapSubscriber) OnError(err error) {
	f.signalError(err)
}

func (f *flatMapSubscriber) OnComplete() {
	f.mu.Lock()
	f.outerDone = true
	f.mu.Unlock()
	f.drain()
}

// signalError records the first error; later ones are dropped and logged.
func (f *flatMapSubscriber) signalError(err error) {
	f.mu.Lock()
	if f.errSignal == nil && !f.done {
		f.errSignal = err
		f.mu.Unlock()
		f.drain()
		return
	}
	f.mu.Unlock()
	logger := Logger()
	logger.Debug().Err(err).Msg("flatMap dropped a late error, terminal already signalled")
}

// ============================================================================
// Drain loop
// ============================================================================

func (f *flatMapSubscriber) drain() {
	if atomic.AddInt32(&f.wip, 1) != 1 {
		return
	}

	missed := int32(1)
	for {
		if f.drainError() {
			return
		}

		// Opportunistically move buffered inner items downstream while
		// demand lasts. Lock is dropped around every downstream call.
		for atomic.LoadInt64(&f.requested) > 0 {
			var source *flatMapInner
			var value any

			f.mu.Lock()
			if f.cancelled || f.errSignal != nil {
				f.mu.Unlock()
				break
			}
			for inner := range f.inners {
				if len(inner.queue) > 0 {
					source = inner
					value = inner.queue[0]
					inner.queue = inner.queue[1:]
					break
				}
			}
			f.mu.Unlock()

			if source == nil {
				break
			}
			f.downstream.OnNext(value)
			produced(&f.requested, 1)
			if s := source.subscriptionRef(); s != nil {
				s.Request(1)
			}
		}

		if f.drainError() {
			return
		}

		// Free slots of fully drained inners; each freed slot admits the
		// oldest pending outer item, or asks upstream for a new one.
		var admitValues []any
		var admitInners []*flatMapInner

		f.mu.Lock()
		if f.cancelled {
			f.mu.Unlock()
			return
		}
		for inner := range f.inners {
			if inner.done && len(inner.queue) == 0 {
				delete(f.inners, inner)
				if len(f.pending) > 0 {
					next := &flatMapInner{parent: f}
					f.inners[next] = struct{}{}
					admitValues = append(admitValues, f.pending[0])
					admitInners = append(admitInners, next)
					f.pending = f.pending[1:]
				} else if !f.outerDone {
					f.needOuter++
				}
			}
		}
		outer := f.upstream
		needOuter := f.needOuter
		f.needOuter = 0
		terminal := f.outerDone && len(f.inners) == 0 && len(f.pending) == 0 && f.errSignal == nil
		if terminal {
			f.done = true
		}
		f.mu.Unlock()

		if terminal {
			f.downstream.OnComplete()
			return
		}
		if needOuter > 0 && outer != nil {
			outer.Request(int64(needOuter))
		}
		for i, value := range admitValues {
			f.mapper(value).Subscribe(admitInners[i])
		}

		missed = atomic.AddInt32(&f.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

// drainError propagates the first recorded error: it cancels the outer
// subscription and every active inner, then delivers a single OnError.
func (f *flatMapSubscriber) drainError() bool {
	f.mu.Lock()
	if f.done || f.cancelled {
		f.mu.Unlock()
		return true
	}
	if f.errSignal == nil {
		f.mu.Unlock()
		return false
	}
	f.done = true
	err := f.errSignal
	outer := f.upstream
	inners := make([]*flatMapInner, 0, len(f.inners))
	for inner := range f.inners {
		inners = append(inners, inner)
	}
	f.pending = nil
	f.mu.Unlock()

	if outer != nil {
		outer.Cancel()
	}
	for _, inner := range inners {
		inner.cancel()
	}
	f.downstream.OnError(err)
	return true
}

// cancelAll tears the whole merge down: outer, every inner, the pending
// queue. Safe from any goroutine, idempotent.
func (f *flatMapSubscriber) cancelAll() {
	f.mu.Lock()
	if f.cancelled {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	outer := f.upstream
	inners := make([]*flatMapInner, 0, len(f.inners))
	for inner := range f.inners {
		inners = append(inners, inner)
	}
	f.pending = nil
	f.mu.Unlock()

	if outer != nil {
		outer.Cancel()
	}
	for _, inner := range inners {
		inner.cancel()
	}
}

// ============================================================================
// Downstream subscription
// ============================================================================

type flatMapSubscription struct {
	parent *flatMapSubscriber
}

func (s *flatMapSubscription) Request(n int64) {
	f := s.parent
	if s.IsCancelled() {
		return
	}
	if n <= 0 {
		f.cancelAll()
		f.mu.Lock()
		delivered := f.done
		f.done = true
		f.mu.Unlock()
		if !delivered {
			f.downstream.OnError(&InvalidDemandError{Requested: n})
		}
		return
	}
	addCap(&f.requested, n)
	f.drain()
}

func (s *flatMapSubscription) Cancel() {
	s.parent.cancelAll()
}

func (s *flatMapSubscription) IsCancelled() bool {
	f := s.parent
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// ============================================================================
// Inner subscriber
// ============================================================================

// flatMapInner subscribes to one mapped inner sequence with a prefetch of
// one, replenished as the drain loop moves items downstream. All state is
// guarded by the parent's lock.
type flatMapInner struct {
	parent *flatMapSubscriber
	sub    Subscription
	queue  []any
	done   bool
}

func (i *flatMapInner) OnSubscribe(s Subscription) {
	p := i.parent
	p.mu.Lock()
	if p.cancelled || p.done {
		p.mu.Unlock()
		s.Cancel()
		return
	}
	i.sub = s
	p.mu.Unlock()
	s.Request(1)
}

func (i *flatMapInner) OnNext(value any) {
	p := i.parent
	p.mu.Lock()
	if p.cancelled || p.done {
		p.mu.Unlock()
		return
	}
	i.queue = append(i.queue, value)
	p.mu.Unlock()
	p.drain()
}

func (i *flatMapInner) OnError(err error) {
	i.parent.signalError(err)
}

func (i *flatMapInner) OnComplete() {
	p := i.parent
	p.mu.Lock()
	i.done = true
	p.mu.Unlock()
	p.drain()
}

func (i *flatMapInner) subscriptionRef() Subscription {
	p := i.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	return i.sub
}

func (i *flatMapInner) cancel() {
	if s := i.subscriptionRef(); s != nil {
		s.Cancel()
	}
}
