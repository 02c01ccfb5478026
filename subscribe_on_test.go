package flowgo

import (
	"errors"
	"sync"
	"testing"

	"github.com/matryer/is"
)

func TestSubscribeOnDefersSubscriptionToWorker(t *testing.T) {
	is := is.New(t)

	scheduler := NewTestScheduler()
	ts := NewTestSubscriber(RequestUnbounded)
	FromSlice([]any{1, 2, 3}).SubscribeOn(scheduler).Subscribe(ts)

	// Subscribe returned, but the upstream side has not run yet.
	is.Equal(len(ts.Values()), 0)
	is.True(!ts.Terminated())

	scheduler.RunAll()
	is.Equal(ts.Values(), []any{1, 2, 3})
	is.True(ts.Completed())
	is.Equal(len(ts.Violations()), 0)
}

func TestSubscribeOnReplaysDemandRequestedBeforeBinding(t *testing.T) {
	is := is.New(t)

	scheduler := NewTestScheduler()
	rec := &requestRecorder{}
	ts := NewTestSubscriber(0)
	recordingSource(FromSlice([]any{1, 2}), rec).SubscribeOn(scheduler).Subscribe(ts)

	// Demand arrives before the worker has subscribed upstream; it must
	// be accumulated and replayed once, not lost.
	ts.Request(1)
	ts.Request(1)
	scheduler.RunAll()

	is.Equal(rec.Requests(), []int64{2})
	is.Equal(ts.Values(), []any{1, 2})
	is.True(ts.Completed())
}

func TestSubscribeOnKeepsUpstreamOnOneGoroutine(t *testing.T) {
	is := is.New(t)

	scheduler := NewPoolScheduler(4, 0)
	defer scheduler.Shutdown()

	var mu sync.Mutex
	var ids []int64
	record := func() {
		mu.Lock()
		ids = append(ids, goid())
		mu.Unlock()
	}

	source := NewFlowable(func(subscriber Subscriber) {
		record() // subscribe context
		index := 0
		var sub Subscription
		sub = NewSubscription(func(n int64) {
			record() // request context
			for i := int64(0); i < n && index < 3; i++ {
				index++
				subscriber.OnNext(index)
			}
			if index == 3 {
				subscriber.OnComplete()
			}
		}, nil)
		subscriber.OnSubscribe(sub)
	})

	ts := NewTestSubscriber(0)
	source.SubscribeOn(scheduler).Subscribe(ts)
	caller := goid()
	ts.Request(1)
	is.True(ts.AwaitCount(1, testTimeout))
	ts.Request(2)
	is.True(ts.AwaitTerminal(testTimeout))

	is.Equal(ts.Values(), []any{1, 2, 3})
	mu.Lock()
	defer mu.Unlock()
	is.True(len(ids) >= 3) // subscribe + at least two request hops
	for _, id := range ids {
		is.Equal(id, ids[0]) // one worker for the whole subscription
	}
	is.True(ids[0] != caller)
}

func TestSubscribeOnSaturatedSchedulerFailsSubscription(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(0)
	Just(1).SubscribeOn(saturatedScheduler{}).Subscribe(ts)

	var saturated *SchedulerSaturatedError
	is.True(errors.As(ts.Err(), &saturated))
}

func TestSubscribeOnCancelReachesUpstream(t *testing.T) {
	is := is.New(t)

	scheduler := NewTestScheduler()
	rec := &requestRecorder{}
	ts := NewTestSubscriber(0)
	recordingSource(Range(1, 10), rec).SubscribeOn(scheduler).Subscribe(ts)

	scheduler.RunAll() // bind upstream
	ts.Cancel()
	is.True(rec.Cancelled())
}
