package flowgo

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const testTimeout = 2 * time.Second

// requestRecorder captures the demand signals a downstream stage sends to
// its upstream source.
type requestRecorder struct {
	mu        sync.Mutex
	requests  []int64
	cancelled bool
}

func (r *requestRecorder) record(n int64) {
	r.mu.Lock()
	r.requests = append(r.requests, n)
	r.mu.Unlock()
}

func (r *requestRecorder) Requests() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.requests))
	copy(out, r.requests)
	return out
}

func (r *requestRecorder) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

type recordingSubscription struct {
	delegate Subscription
	rec      *requestRecorder
}

func (s *recordingSubscription) Request(n int64) {
	s.rec.record(n)
	s.delegate.Request(n)
}

func (s *recordingSubscription) Cancel() {
	s.rec.mu.Lock()
	s.rec.cancelled = true
	s.rec.mu.Unlock()
	s.delegate.Cancel()
}

func (s *recordingSubscription) IsCancelled() bool {
	return s.delegate.IsCancelled()
}

type recordingSubscriber struct {
	downstream Subscriber
	rec        *requestRecorder
}

func (rs *recordingSubscriber) OnSubscribe(s Subscription) {
	rs.downstream.OnSubscribe(&recordingSubscription{delegate: s, rec: rs.rec})
}

func (rs *recordingSubscriber) OnNext(value any) { rs.downstream.OnNext(value) }
func (rs *recordingSubscriber) OnError(err error) { rs.downstream.OnError(err) }
func (rs *recordingSubscriber) OnComplete()       { rs.downstream.OnComplete() }

// recordingSource wraps a Flowable so that every Request and Cancel the
// downstream chain issues against it lands in rec.
func recordingSource(f Flowable, rec *requestRecorder, options ...Option) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		f.Subscribe(&recordingSubscriber{downstream: subscriber, rec: rec})
	}, options...)
}

// manualSource is a publisher whose emissions the test drives by hand. It
// deliberately does not enforce demand, so tests can also provoke
// over-delivery.
type manualSource struct {
	mu        sync.Mutex
	actual    Subscriber
	requested int64
	cancelled bool
}

func newManualSource() *manualSource {
	return &manualSource{}
}

func (m *manualSource) Flowable() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		m.mu.Lock()
		m.actual = subscriber
		m.mu.Unlock()
		subscriber.OnSubscribe(m)
	})
}

func (m *manualSource) Request(n int64) {
	m.mu.Lock()
	m.requested += n
	m.mu.Unlock()
}

func (m *manualSource) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()
}

func (m *manualSource) IsCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *manualSource) Requested() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requested
}

func (m *manualSource) Emit(value any) {
	m.mu.Lock()
	sub := m.actual
	m.requested--
	m.mu.Unlock()
	sub.OnNext(value)
}

func (m *manualSource) Complete() {
	m.mu.Lock()
	sub := m.actual
	m.mu.Unlock()
	sub.OnComplete()
}

func (m *manualSource) Error(err error) {
	m.mu.Lock()
	sub := m.actual
	m.mu.Unlock()
	sub.OnError(err)
}

// saturatedScheduler rejects every task, standing in for a pool whose
// queues are permanently full.
type saturatedScheduler struct{}

func (saturatedScheduler) Schedule(func()) (Disposable, error) {
	return nil, &SchedulerSaturatedError{Capacity: 0}
}

func (saturatedScheduler) NewWorker() Worker { return &saturatedWorker{} }
func (saturatedScheduler) Shutdown()         {}

type saturatedWorker struct{ disposed bool }

func (w *saturatedWorker) Schedule(func()) (Disposable, error) {
	return nil, &SchedulerSaturatedError{Capacity: 0}
}

func (w *saturatedWorker) Dispose()         { w.disposed = true }
func (w *saturatedWorker) IsDisposed() bool { return w.disposed }

// goid returns the current goroutine's id, parsed from the stack header.
// Test-only: used to assert which execution context signals run on.
func goid() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// "goroutine 123 [running]:"
	fields := bytes.Fields(buf)
	id, _ := strconv.ParseInt(string(fields[1]), 10, 64)
	return id
}
