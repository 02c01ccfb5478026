package flowgo

import (
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestFromSliceDeliversInOrder(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(RequestUnbounded)
	FromSlice([]any{1, 2, 3, 4, 5}).Subscribe(ts)

	is.Equal(ts.Values(), []any{1, 2, 3, 4, 5})
	is.True(ts.Completed())
	is.NoErr(ts.Err())
	is.Equal(len(ts.Violations()), 0)
}

func TestFromSliceIncrementalDemand(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(0)
	FromSlice([]any{"a", "b", "c"}).Subscribe(ts)

	is.Equal(len(ts.Values()), 0) // no demand, no items

	ts.Request(1)
	is.Equal(ts.Values(), []any{"a"})
	is.True(!ts.Terminated())

	ts.Request(1)
	ts.Request(1)
	is.Equal(ts.Values(), []any{"a", "b", "c"})
	is.True(ts.Completed())
	is.Equal(len(ts.Violations()), 0)
}

func TestFromSliceNoOverDelivery(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(2)
	FromSlice([]any{1, 2, 3, 4, 5}).Subscribe(ts)

	is.Equal(ts.Values(), []any{1, 2})
	is.True(!ts.Terminated())
	is.Equal(len(ts.Violations()), 0)

	ts.Request(RequestUnbounded)
	is.Equal(ts.Values(), []any{1, 2, 3, 4, 5})
	is.True(ts.Completed())
	is.Equal(len(ts.Violations()), 0)
}

func TestSynchronousByDefault(t *testing.T) {
	is := is.New(t)

	// Without scheduling operators every signal runs inline on the
	// caller's goroutine.
	caller := goid()
	var seen []int64
	Just(1, 2, 3).
		Map(func(v any) (any, error) { return v, nil }).
		SubscribeWithCallbacks(func(any) { seen = append(seen, goid()) }, nil, nil)

	is.Equal(len(seen), 3) // delivery finished before subscribe returned
	for _, id := range seen {
		is.Equal(id, caller)
	}
}

func TestInvalidDemandReportedViaOnError(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(0)
	FromSlice([]any{1, 2, 3}).Subscribe(ts)
	ts.Request(0)

	var invalid *InvalidDemandError
	is.True(errors.As(ts.Err(), &invalid))
	is.Equal(invalid.Requested, int64(0))
	is.Equal(len(ts.Values()), 0)
}

func TestCancelIsIdempotent(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(1)
	FromSlice([]any{1, 2, 3}).Subscribe(ts)

	ts.Cancel()
	ts.Cancel()
	ts.Cancel()

	ts.Request(10) // demand after cancel is ignored
	is.Equal(ts.Values(), []any{1})
	is.True(!ts.Terminated())
	is.Equal(len(ts.Violations()), 0)
}

func TestCancelInsideOnNextStopsDelivery(t *testing.T) {
	is := is.New(t)

	var received []any
	cs := &cancellingSubscriber{limit: 2, received: &received}
	FromSlice([]any{1, 2, 3, 4, 5}).Subscribe(cs)

	is.Equal(received, []any{1, 2})
	is.True(!cs.terminated)
}

type cancellingSubscriber struct {
	sub        Subscription
	limit      int
	received   *[]any
	terminated bool
}

func (cs *cancellingSubscriber) OnSubscribe(s Subscription) {
	cs.sub = s
	s.Request(RequestUnbounded)
}

func (cs *cancellingSubscriber) OnNext(value any) {
	*cs.received = append(*cs.received, value)
	if len(*cs.received) >= cs.limit {
		cs.sub.Cancel()
	}
}

func (cs *cancellingSubscriber) OnError(error) { cs.terminated = true }
func (cs *cancellingSubscriber) OnComplete()   { cs.terminated = true }

func TestSubscribeBatchRequestWindows(t *testing.T) {
	is := is.New(t)

	// ["red","white","blue"] -> uppercase -> batched subscribe with an
	// initial window of 2: upstream sees [2, 2], downstream sees the
	// transformed items in order with a single completion.
	rec := &requestRecorder{}
	source := recordingSource(FromSlice([]any{"red", "white", "blue"}), rec)

	var received []any
	completed := false
	source.
		Map(func(v any) (any, error) { return strings.ToUpper(v.(string)), nil }).
		SubscribeBatch(2, 2,
			func(v any) { received = append(received, v) },
			func(err error) { t.Fatalf("unexpected error: %v", err) },
			func() { completed = true },
		)

	is.Equal(received, []any{"RED", "WHITE", "BLUE"})
	is.True(completed)
	is.Equal(rec.Requests(), []int64{2, 2})
}

func TestMapErrorCancelsUpstream(t *testing.T) {
	is := is.New(t)

	boom := errors.New("boom")
	rec := &requestRecorder{}
	source := recordingSource(FromSlice([]any{"red", "white", "blue"}), rec)

	ts := NewTestSubscriber(RequestUnbounded)
	source.
		Map(func(v any) (any, error) {
			if v == "white" {
				return nil, boom
			}
			return strings.ToUpper(v.(string)), nil
		}).
		Subscribe(ts)

	is.Equal(ts.Values(), []any{"RED"})
	is.Equal(ts.Err(), boom)
	is.True(!ts.Completed())
	is.True(rec.Cancelled())
	is.Equal(len(ts.Violations()), 0)
}

func TestEmptyCompletesWithoutItems(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(1)
	Empty().Subscribe(ts)

	is.Equal(len(ts.Values()), 0)
	is.True(ts.Completed())
}

func TestErrorFailsOnFirstRequest(t *testing.T) {
	is := is.New(t)

	boom := errors.New("boom")
	ts := NewTestSubscriber(0)
	Error(boom).Subscribe(ts)
	is.True(!ts.Terminated())

	ts.Request(1)
	is.Equal(ts.Err(), boom)
}

func TestDeferAssemblesPerSubscriber(t *testing.T) {
	is := is.New(t)

	calls := 0
	f := Defer(func() Flowable {
		calls++
		return Just(calls)
	})

	first, err := f.BlockingFirst()
	is.NoErr(err)
	second, err := f.BlockingFirst()
	is.NoErr(err)

	is.Equal(first, 1)
	is.Equal(second, 2)
}

func TestBlockingFirst(t *testing.T) {
	is := is.New(t)

	v, err := Just("a", "b").BlockingFirst()
	is.NoErr(err)
	is.Equal(v, "a")

	_, err = Empty().BlockingFirst()
	is.Equal(err, ErrEmptySequence)
}

func TestBlockingLast(t *testing.T) {
	is := is.New(t)

	v, err := Just("a", "b").BlockingLast()
	is.NoErr(err)
	is.Equal(v, "b")

	_, err = Empty().BlockingLast()
	is.Equal(err, ErrEmptySequence)
}

func TestToSlice(t *testing.T) {
	is := is.New(t)

	items, err := Range(10, 4).ToSlice()
	is.NoErr(err)
	is.Equal(items, []any{10, 11, 12, 13})

	boom := errors.New("boom")
	_, err = Error(boom).ToSlice()
	is.Equal(err, boom)
}

func TestFromChannelUnderDemand(t *testing.T) {
	is := is.New(t)

	ch := make(chan any, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	ts := NewTestSubscriber(RequestUnbounded)
	FromChannel(ch).Subscribe(ts)

	is.True(ts.AwaitTerminal(testTimeout))
	is.Equal(ts.Values(), []any{1, 2, 3})
	is.True(ts.Completed())
	is.Equal(len(ts.Violations()), 0)
}

func TestFromChannelRespectsDemand(t *testing.T) {
	is := is.New(t)

	ch := make(chan any, 3)
	ch <- 1
	ch <- 2
	ch <- 3

	ts := NewTestSubscriber(2)
	FromChannel(ch).Subscribe(ts)

	is.True(ts.AwaitCount(2, testTimeout))
	is.Equal(ts.Values(), []any{1, 2})
	is.Equal(len(ts.Violations()), 0)
	ts.Cancel()
}

func TestEmptySliceCompletesOnFirstRequest(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(1)
	FromSlice(nil).Subscribe(ts)

	is.True(ts.Completed())
	is.Equal(len(ts.Values()), 0)
	is.Equal(len(ts.Violations()), 0)
}

func TestRangeZeroCountCompletes(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(RequestUnbounded)
	Range(5, 0).Subscribe(ts)

	is.True(ts.Completed())
	is.Equal(len(ts.Values()), 0)
}

func TestJustWithoutValuesDrainsToEmptySlice(t *testing.T) {
	is := is.New(t)

	values, err := Just().ToSlice()
	is.NoErr(err)
	is.Equal(len(values), 0)
}

func TestRequestIgnoredAfterCancel(t *testing.T) {
	is := is.New(t)

	ts := NewTestSubscriber(0)
	FromSlice([]any{1, 2}).Subscribe(ts)
	ts.Cancel()

	ts.Request(0) // invalid demand on a dead subscription stays silent
	ts.Request(5)
	is.True(!ts.Terminated())
	is.Equal(len(ts.Values()), 0)

	ch := make(chan any, 1)
	ch <- 1
	cts := NewTestSubscriber(0)
	FromChannel(ch).Subscribe(cts)
	cts.Cancel()

	cts.Request(-1)
	is.True(!cts.Terminated())
	is.Equal(len(cts.Violations()), 0)
}
