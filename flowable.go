// Flowable: the backpressure-aware sequence type and its subscribe surface.
package flowgo

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Flowable interface
// ============================================================================

// Flowable is a Publisher with a fluent operator surface. Assembly is lazy:
// nothing runs until a subscriber requests demand.
type Flowable interface {
	Publisher

	// SubscribeWithCallbacks subscribes with unbounded demand. This is the
	// convenience entry point for consumers that do not need flow control.
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription

	// SubscribeBatch subscribes with bounded, windowed demand: initial
	// items are requested up front, and another rerequest items each time
	// rerequest items have been consumed.
	SubscribeBatch(initial, rerequest int64, onNext OnNext, onError OnError, onComplete OnComplete) Subscription

	// SubscribeOn moves the upstream subscribe call and all subsequent
	// upstream requests onto a single worker claimed from scheduler.
	SubscribeOn(scheduler Scheduler) Flowable

	// PublishOn moves downstream delivery onto a worker claimed from
	// scheduler, buffering up to prefetch items between the two sides.
	// prefetch <= 0 uses the configured buffer size.
	PublishOn(scheduler Scheduler, prefetch int) Flowable

	// Map transforms each item, preserving cardinality and order.
	Map(transformer Transformer) Flowable

	// Filter drops items that do not match the predicate, requesting a
	// replacement upstream for each dropped item.
	Filter(predicate Predicate) Flowable

	// Take delivers at most count items, then completes and cancels
	// upstream.
	Take(count int64) Flowable

	// FlatMap maps each item to an inner Flowable and merges up to
	// concurrency of them at a time into one interleaved sequence.
	FlatMap(mapper func(value any) Flowable, concurrency int) Flowable

	// Log observes every lifecycle signal on this stage without altering
	// the sequence, writing structured events through the package logger.
	Log(name string) Flowable

	// DoOnNext runs a side-effect callback for each item.
	DoOnNext(action OnNext) Flowable
	// DoOnError runs a side-effect callback on terminal error.
	DoOnError(action OnError) Flowable
	// DoOnComplete runs a side-effect callback on normal completion.
	DoOnComplete(action OnComplete) Flowable

	// BlockingFirst waits for the first item. It subscribes unbounded and
	// cancels after one item; discouraged outside test code because it
	// discards flow control.
	BlockingFirst() (any, error)
	// BlockingLast waits for completion and returns the final item.
	// Discouraged outside test code.
	BlockingLast() (any, error)
	// ToSlice waits for completion and collects every item.
	// Discouraged outside test code.
	ToSlice() ([]any, error)
}

// ============================================================================
// Implementation
// ============================================================================

type flowable struct {
	source func(subscriber Subscriber)
	config *Config
}

// NewFlowable creates a Flowable from a source function. The source is
// invoked once per subscriber and must call OnSubscribe synchronously
// before returning.
func NewFlowable(source func(subscriber Subscriber), options ...Option) Flowable {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return &flowable{source: source, config: config}
}

// lift assembles a downstream stage sharing this Flowable's config.
func (f *flowable) lift(source func(subscriber Subscriber)) Flowable {
	return &flowable{source: source, config: f.config}
}

func (f *flowable) Subscribe(subscriber Subscriber) {
	f.source(subscriber)
}

func (f *flowable) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	return f.subscribeCallbacks(RequestUnbounded, 0, onNext, onError, onComplete)
}

func (f *flowable) SubscribeBatch(initial, rerequest int64, onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	return f.subscribeCallbacks(initial, rerequest, onNext, onError, onComplete)
}

func (f *flowable) subscribeCallbacks(initial, rerequest int64, onNext OnNext, onError OnError, onComplete OnComplete) Subscription {
	cs := &callbackSubscriber{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
		initial:    initial,
		rerequest:  rerequest,
	}
	f.Subscribe(cs)
	return cs.subscriptionRef()
}

// Operator assembly lives in operators.go, scheduling in subscribe_on.go /
// publish_on.go, merging in flat_map.go, observation in log.go.

func (f *flowable) Map(transformer Transformer) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&mapSubscriber{downstream: subscriber, transformer: transformer})
	})
}

func (f *flowable) Filter(predicate Predicate) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&filterSubscriber{downstream: subscriber, predicate: predicate})
	})
}

func (f *flowable) Take(count int64) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&takeSubscriber{downstream: subscriber, remaining: count})
	})
}

func (f *flowable) FlatMap(mapper func(value any) Flowable, concurrency int) Flowable {
	if concurrency <= 0 {
		concurrency = 1
	}
	return f.lift(func(subscriber Subscriber) {
		fms := newFlatMapSubscriber(subscriber, mapper, concurrency)
		f.Subscribe(fms)
	})
}

func (f *flowable) Log(name string) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(newLogSubscriber(name, subscriber))
	})
}

func (f *flowable) DoOnNext(action OnNext) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&doOnSubscriber{downstream: subscriber, onNext: action})
	})
}

func (f *flowable) DoOnError(action OnError) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&doOnSubscriber{downstream: subscriber, onError: action})
	})
}

func (f *flowable) DoOnComplete(action OnComplete) Flowable {
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(&doOnSubscriber{downstream: subscriber, onComplete: action})
	})
}

func (f *flowable) SubscribeOn(scheduler Scheduler) Flowable {
	return f.lift(func(subscriber Subscriber) {
		subscribeOnRun(f, subscriber, scheduler)
	})
}

func (f *flowable) PublishOn(scheduler Scheduler, prefetch int) Flowable {
	if prefetch <= 0 {
		prefetch = f.config.BufferSize
	}
	return f.lift(func(subscriber Subscriber) {
		f.Subscribe(newPublishOnSubscriber(subscriber, scheduler, prefetch))
	})
}

// ============================================================================
// Blocking extraction
// ============================================================================

func (f *flowable) BlockingFirst() (any, error) {
	var (
		result any
		err    error
		once   sync.Once
		done   = make(chan struct{})
	)

	var subscription Subscription
	subscription = f.SubscribeWithCallbacks(
		func(value any) {
			once.Do(func() {
				result = value
				close(done)
			})
		},
		func(e error) {
			once.Do(func() {
				err = e
				close(done)
			})
		},
		func() {
			once.Do(func() {
				err = ErrEmptySequence
				close(done)
			})
		},
	)

	<-done
	if subscription != nil {
		subscription.Cancel()
	}
	return result, err
}

func (f *flowable) BlockingLast() (any, error) {
	var (
		mu   sync.Mutex
		last any
		seen bool
		err  error
		done = make(chan struct{})
		once sync.Once
	)
	finish := func() { once.Do(func() { close(done) }) }

	f.SubscribeWithCallbacks(
		func(value any) {
			mu.Lock()
			last = value
			seen = true
			mu.Unlock()
		},
		func(e error) {
			mu.Lock()
			err = e
			mu.Unlock()
			finish()
		},
		func() {
			mu.Lock()
			if !seen {
				err = ErrEmptySequence
			}
			mu.Unlock()
			finish()
		},
	)

	<-done
	mu.Lock()
	defer mu.Unlock()
	return last, err
}

func (f *flowable) ToSlice() ([]any, error) {
	var (
		mu    sync.Mutex
		items []any
		err   error
		done  = make(chan struct{})
		once  sync.Once
	)
	finish := func() { once.Do(func() { close(done) }) }

	f.SubscribeWithCallbacks(
		func(value any) {
			mu.Lock()
			items = append(items, value)
			mu.Unlock()
		},
		func(e error) {
			mu.Lock()
			err = e
			mu.Unlock()
			finish()
		},
		finish,
	)

	<-done
	mu.Lock()
	defer mu.Unlock()
	return items, err
}

// ============================================================================
// Callback subscriber
// ============================================================================

// callbackSubscriber adapts the three user callbacks to the Subscriber
// contract and drives the requested demand window.
type callbackSubscriber struct {
	onNext     OnNext
	onError    OnError
	onComplete OnComplete

	initial   int64
	rerequest int64
	consumed  int64

	mu           sync.Mutex
	subscription Subscription
	done         int32
}

func (cs *callbackSubscriber) OnSubscribe(s Subscription) {
	cs.mu.Lock()
	if cs.subscription != nil {
		cs.mu.Unlock()
		s.Cancel()
		return
	}
	cs.subscription = s
	cs.mu.Unlock()

	if cs.initial != 0 {
		s.Request(cs.initial)
	}
}

func (cs *callbackSubscriber) OnNext(value any) {
	if atomic.LoadInt32(&cs.done) == 1 {
		return
	}
	if cs.onNext != nil {
		cs.onNext(value)
	}
	if cs.rerequest > 0 {
		cs.consumed++
		if cs.consumed >= cs.rerequest {
			cs.consumed = 0
			if s := cs.subscriptionRef(); s != nil {
				s.Request(cs.rerequest)
			}
		}
	}
}

func (cs *callbackSubscriber) OnError(err error) {
	if atomic.CompareAndSwapInt32(&cs.done, 0, 1) {
		if cs.onError != nil {
			cs.onError(err)
		}
	}
}

func (cs *callbackSubscriber) OnComplete() {
	if atomic.CompareAndSwapInt32(&cs.done, 0, 1) {
		if cs.onComplete != nil {
			cs.onComplete()
		}
	}
}

func (cs *callbackSubscriber) subscriptionRef() Subscription {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.subscription
}
