// PublishOn stage: decouples production from consumption across a worker
// boundary through a bounded buffer with request-ahead windowing.
package flowgo

import (
	"sync"
	"sync/atomic"
)

// publishOnSubscriber enqueues upstream items on the producer's goroutine
// and drains them to the downstream subscriber on one claimed worker.
// Upstream demand is issued in windows of prefetch: the initial window at
// subscribe time, and a fresh Request(prefetch) each time prefetch items
// have been delivered downstream.
type publishOnSubscriber struct {
	downstream Subscriber
	worker     Worker
	prefetch   int

	mu        sync.Mutex
	queue     []any
	completed bool
	errSignal error

	upstream  Subscription
	requested int64
	consumed  int
	cancelled int32
	done      int32
	wip       int32
}

func newPublishOnSubscriber(downstream Subscriber, scheduler Scheduler, prefetch int) *publishOnSubscriber {
	return &publishOnSubscriber{
		downstream: downstream,
		worker:     scheduler.NewWorker(),
		prefetch:   prefetch,
	}
}

func (ps *publishOnSubscriber) OnSubscribe(s Subscription) {
	ps.upstream = s
	ps.downstream.OnSubscribe(&publishOnSubscription{parent: ps})
	s.Request(int64(ps.prefetch))
}

func (ps *publishOnSubscriber) OnNext(value any) {
	if ps.isCancelled() || atomic.LoadInt32(&ps.done) == 1 {
		return
	}

	ps.mu.Lock()
	if len(ps.queue) >= 2*ps.prefetch {
		// Upstream emitted past its window; a correct publisher can
		// never reach this.
		ps.mu.Unlock()
		ps.upstream.Cancel()
		ps.fail(&BufferOverflowError{Capacity: 2 * ps.prefetch})
		return
	}
	ps.queue = append(ps.queue, value)
	ps.mu.Unlock()

	ps.scheduleDrain()
}

func (ps *publishOnSubscriber) OnError(err error) {
	ps.mu.Lock()
	ps.errSignal = err
	ps.mu.Unlock()
	ps.scheduleDrain()
}

func (ps *publishOnSubscriber) OnComplete() {
	ps.mu.Lock()
	ps.completed = true
	ps.mu.Unlock()
	ps.scheduleDrain()
}

func (ps *publishOnSubscriber) isCancelled() bool {
	return atomic.LoadInt32(&ps.cancelled) == 1
}

// fail delivers a stage-level error downstream at most once, bypassing
// the worker; used when the worker itself is the failing resource.
func (ps *publishOnSubscriber) fail(err error) {
	if atomic.CompareAndSwapInt32(&ps.done, 0, 1) {
		ps.downstream.OnError(err)
		ps.worker.Dispose()
	}
}

func (ps *publishOnSubscriber) scheduleDrain() {
	if atomic.AddInt32(&ps.wip, 1) != 1 {
		return
	}
	if _, err := ps.worker.Schedule(ps.drainLoop); err != nil {
		ps.upstream.Cancel()
		ps.fail(err)
	}
}

// drainLoop runs on the claimed worker; the wip gate guarantees a single
// in-flight drain task, so downstream sees strictly sequential signals.
func (ps *publishOnSubscriber) drainLoop() {
	missed := int32(1)
	for {
		for atomic.LoadInt64(&ps.requested) > 0 && !ps.isCancelled() {
			ps.mu.Lock()
			if len(ps.queue) == 0 {
				ps.mu.Unlock()
				break
			}
			value := ps.queue[0]
			ps.queue = ps.queue[1:]
			ps.mu.Unlock()

			if atomic.LoadInt32(&ps.done) == 1 {
				return
			}
			ps.downstream.OnNext(value)
			produced(&ps.requested, 1)

			ps.consumed++
			if ps.consumed >= ps.prefetch {
				ps.consumed = 0
				ps.upstream.Request(int64(ps.prefetch))
			}
		}

		if ps.isCancelled() {
			return
		}

		ps.mu.Lock()
		err := ps.errSignal
		finished := ps.completed && len(ps.queue) == 0
		ps.mu.Unlock()

		if err != nil {
			if atomic.CompareAndSwapInt32(&ps.done, 0, 1) {
				ps.downstream.OnError(err)
				ps.worker.Dispose()
			}
			return
		}
		if finished {
			if atomic.CompareAndSwapInt32(&ps.done, 0, 1) {
				ps.downstream.OnComplete()
				ps.worker.Dispose()
			}
			return
		}

		missed = atomic.AddInt32(&ps.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

// publishOnSubscription is the demand/cancel surface handed downstream.
type publishOnSubscription struct {
	parent *publishOnSubscriber
}

func (s *publishOnSubscription) Request(n int64) {
	ps := s.parent
	if ps.isCancelled() {
		return
	}
	if n <= 0 {
		s.Cancel()
		ps.fail(&InvalidDemandError{Requested: n})
		return
	}
	addCap(&ps.requested, n)
	ps.scheduleDrain()
}

func (s *publishOnSubscription) Cancel() {
	ps := s.parent
	if !atomic.CompareAndSwapInt32(&ps.cancelled, 0, 1) {
		return
	}
	ps.upstream.Cancel()
	ps.worker.Dispose()
	ps.mu.Lock()
	ps.queue = nil
	ps.mu.Unlock()
}

func (s *publishOnSubscription) IsCancelled() bool {
	return s.parent.isCancelled()
}
