// SubscribeOn stage: moves the upstream subscribe call and all subsequent
// upstream requests onto one worker claimed from a scheduler.
package flowgo

import (
	"sync"
	"sync/atomic"
)

// subscribeOnRun wires downstream to upstream across a worker boundary.
// One worker is claimed for the whole life of the subscription, so the
// upstream side never migrates between goroutines after binding.
func subscribeOnRun(upstream Publisher, downstream Subscriber, scheduler Scheduler) {
	sos := &subscribeOnSubscription{
		downstream: downstream,
		worker:     scheduler.NewWorker(),
	}
	downstream.OnSubscribe(sos)

	if _, err := sos.worker.Schedule(func() {
		upstream.Subscribe(&subscribeOnSubscriber{parent: sos})
	}); err != nil {
		sos.fail(err)
	}
}

type subscribeOnSubscription struct {
	downstream Subscriber
	worker     Worker

	mu        sync.Mutex
	upstream  Subscription
	prequeued int64

	cancelled int32
	done      int32
}

func (s *subscribeOnSubscription) Request(n int64) {
	if s.IsCancelled() {
		return
	}
	if n <= 0 {
		s.Cancel()
		s.fail(&InvalidDemandError{Requested: n})
		return
	}

	s.mu.Lock()
	upstream := s.upstream
	if upstream == nil {
		// Upstream is not bound yet; the demand is replayed on the
		// worker as soon as the subscribe task binds it.
		addCap(&s.prequeued, n)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.worker.Schedule(func() { upstream.Request(n) }); err != nil {
		s.Cancel()
		s.fail(err)
	}
}

func (s *subscribeOnSubscription) Cancel() {
	if !atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		return
	}
	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()
	if upstream != nil {
		// Direct call: cancellation is thread-safe by contract, and the
		// worker may already be saturated or shut down.
		upstream.Cancel()
	}
	s.worker.Dispose()
}

func (s *subscribeOnSubscription) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

// fail delivers a stage-level error downstream at most once.
func (s *subscribeOnSubscription) fail(err error) {
	if atomic.CompareAndSwapInt32(&s.done, 0, 1) {
		s.downstream.OnError(err)
	}
}

// bind attaches the real upstream subscription; runs on the worker.
func (s *subscribeOnSubscription) bind(upstream Subscription) {
	if s.IsCancelled() {
		upstream.Cancel()
		return
	}
	s.mu.Lock()
	s.upstream = upstream
	pending := atomic.SwapInt64(&s.prequeued, 0)
	s.mu.Unlock()

	if pending > 0 {
		// Already on the claimed worker, request inline.
		upstream.Request(pending)
	}
}

// subscribeOnSubscriber receives upstream signals (on whatever goroutine
// the upstream emits from) and forwards them downstream unchanged.
type subscribeOnSubscriber struct {
	parent *subscribeOnSubscription
}

func (ss *subscribeOnSubscriber) OnSubscribe(s Subscription) {
	ss.parent.bind(s)
}

func (ss *subscribeOnSubscriber) OnNext(value any) {
	if atomic.LoadInt32(&ss.parent.done) == 1 || ss.parent.IsCancelled() {
		return
	}
	ss.parent.downstream.OnNext(value)
}

func (ss *subscribeOnSubscriber) OnError(err error) {
	p := ss.parent
	if atomic.CompareAndSwapInt32(&p.done, 0, 1) {
		p.downstream.OnError(err)
		p.worker.Dispose()
	}
}

func (ss *subscribeOnSubscriber) OnComplete() {
	p := ss.parent
	if atomic.CompareAndSwapInt32(&p.done, 0, 1) {
		p.downstream.OnComplete()
		p.worker.Dispose()
	}
}
