// TestSubscriber: a recording subscriber used to verify publisher and
// operator behavior, including demand-protocol conformance.
package flowgo

import (
	"fmt"
	"sync"
	"time"
)

// TestSubscriber records every signal it receives and checks the demand
// protocol on each delivery: more items than cumulatively requested, a
// second terminal signal, or items after a terminal are recorded as
// protocol violations for the test to fail on.
type TestSubscriber struct {
	mu           sync.Mutex
	subscription Subscription
	values       []any
	errs         []error
	completions  int
	requested    int64
	delivered    int64
	terminated   bool
	violations   []string

	initial int64
}

// NewTestSubscriber creates a TestSubscriber that requests initial items
// at subscribe time. Use 0 to subscribe without demand, or
// RequestUnbounded to disable backpressure.
func NewTestSubscriber(initial int64) *TestSubscriber {
	return &TestSubscriber{initial: initial}
}

func (ts *TestSubscriber) OnSubscribe(s Subscription) {
	ts.mu.Lock()
	if ts.subscription != nil {
		ts.violations = append(ts.violations, "OnSubscribe called twice")
		ts.mu.Unlock()
		s.Cancel()
		return
	}
	ts.subscription = s
	ts.mu.Unlock()

	if ts.initial != 0 {
		ts.Request(ts.initial)
	}
}

func (ts *TestSubscriber) OnNext(value any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.terminated {
		ts.violations = append(ts.violations, fmt.Sprintf("OnNext(%v) after terminal signal", value))
		return
	}
	ts.delivered++
	if ts.requested != RequestUnbounded && ts.delivered > ts.requested {
		ts.violations = append(ts.violations,
			fmt.Sprintf("over-delivery: %d items delivered, %d requested", ts.delivered, ts.requested))
	}
	ts.values = append(ts.values, value)
}

func (ts *TestSubscriber) OnError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.terminated {
		ts.violations = append(ts.violations, fmt.Sprintf("OnError(%v) after terminal signal", err))
		return
	}
	ts.terminated = true
	ts.errs = append(ts.errs, err)
}

func (ts *TestSubscriber) OnComplete() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.terminated {
		ts.violations = append(ts.violations, "OnComplete after terminal signal")
		return
	}
	ts.terminated = true
	ts.completions++
}

// Request forwards demand to the captured subscription, tracking the
// cumulative total for over-delivery checks.
func (ts *TestSubscriber) Request(n int64) {
	ts.mu.Lock()
	s := ts.subscription
	if ts.requested == RequestUnbounded || n == RequestUnbounded {
		ts.requested = RequestUnbounded
	} else {
		ts.requested += n
	}
	ts.mu.Unlock()

	if s != nil {
		s.Request(n)
	}
}

// Cancel cancels the captured subscription.
func (ts *TestSubscriber) Cancel() {
	ts.mu.Lock()
	s := ts.subscription
	ts.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Values returns a copy of the received items in delivery order.
func (ts *TestSubscriber) Values() []any {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]any, len(ts.values))
	copy(out, ts.values)
	return out
}

// Err returns the first received error, or nil.
func (ts *TestSubscriber) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.errs) == 0 {
		return nil
	}
	return ts.errs[0]
}

// Completed reports whether OnComplete was received.
func (ts *TestSubscriber) Completed() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.completions > 0
}

// Terminated reports whether any terminal signal was received.
func (ts *TestSubscriber) Terminated() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.terminated
}

// Violations returns the recorded protocol violations; an empty result
// means the upstream honored the demand protocol.
func (ts *TestSubscriber) Violations() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.violations))
	copy(out, ts.violations)
	return out
}

// AwaitTerminal waits until a terminal signal arrives or the timeout
// elapses, reporting whether the sequence terminated in time.
func (ts *TestSubscriber) AwaitTerminal(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ts.Terminated() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return ts.Terminated()
}

// AwaitCount waits until at least n items arrived or the timeout elapses,
// reporting whether the count was reached.
func (ts *TestSubscriber) AwaitCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(ts.Values()) >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return len(ts.Values()) >= n
}
