// Scheduler implementations: execution contexts that stages use to move
// work across goroutines while keeping per-worker FIFO ordering.
package flowgo

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Contracts
// ============================================================================

// Worker is a strictly sequential execution context: tasks scheduled on
// one worker run one after another, in submission order, on the worker's
// backing goroutine.
type Worker interface {
	// Schedule queues a task. It never blocks: when the worker's queue is
	// saturated it returns *SchedulerSaturatedError, and after shutdown
	// *SchedulerShutdownError.
	Schedule(task func()) (Disposable, error)
	// Dispose releases the worker; tasks it queued that have not started
	// yet are skipped.
	Dispose()
	IsDisposed() bool
}

// Scheduler supplies Workers backed by a shared pool of goroutines.
// Schedulers are the only long-lived shared resource of the engine; the
// caller owns them and must call Shutdown.
type Scheduler interface {
	// Schedule runs a one-off task on some worker of the pool.
	Schedule(task func()) (Disposable, error)
	// NewWorker claims a sequential execution context. Workers may
	// multiplex onto the pool's goroutines, but FIFO order within one
	// worker always holds.
	NewWorker() Worker
	// Shutdown drains already queued tasks, then stops the pool.
	// Subsequent submissions fail with *SchedulerShutdownError.
	Shutdown()
}

const defaultQueueCapacity = 256

// ============================================================================
// Pool scheduler
// ============================================================================

type scheduledTask struct {
	run      func()
	disposed int32
	owner    interface{ IsDisposed() bool }
}

func (t *scheduledTask) Dispose() {
	atomic.StoreInt32(&t.disposed, 1)
}

func (t *scheduledTask) IsDisposed() bool {
	return atomic.LoadInt32(&t.disposed) == 1
}

// eventLoop is one pooled goroutine with a bounded FIFO task queue.
type eventLoop struct {
	tasks    chan *scheduledTask
	mu       sync.RWMutex
	shutdown bool
	metrics  *schedulerMetrics
}

func (l *eventLoop) submit(t *scheduledTask) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.shutdown {
		l.metrics.taskRejected()
		return &SchedulerShutdownError{}
	}
	select {
	case l.tasks <- t:
		l.metrics.taskSubmitted()
		return nil
	default:
		l.metrics.taskRejected()
		return &SchedulerSaturatedError{Capacity: cap(l.tasks)}
	}
}

func (l *eventLoop) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for t := range l.tasks {
		if t.IsDisposed() {
			continue
		}
		if t.owner != nil && t.owner.IsDisposed() {
			continue
		}
		t.run()
		l.metrics.taskCompleted()
	}
}

type poolScheduler struct {
	loops []*eventLoop
	next  uint32
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPoolScheduler creates a Scheduler backed by a fixed pool of workers
// goroutines, each with a bounded FIFO queue of queueCapacity tasks.
// Non-positive arguments select runtime.NumCPU() goroutines and the
// default queue capacity.
func NewPoolScheduler(workers, queueCapacity int) Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}

	metrics := newSchedulerMetrics("pool")
	s := &poolScheduler{loops: make([]*eventLoop, workers)}
	for i := range s.loops {
		loop := &eventLoop{
			tasks:   make(chan *scheduledTask, queueCapacity),
			metrics: metrics,
		}
		s.loops[i] = loop
		s.wg.Add(1)
		go loop.run(&s.wg)
	}
	return s
}

func (s *poolScheduler) pick() *eventLoop {
	i := atomic.AddUint32(&s.next, 1)
	return s.loops[int(i)%len(s.loops)]
}

func (s *poolScheduler) Schedule(task func()) (Disposable, error) {
	t := &scheduledTask{run: task}
	if err := s.pick().submit(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *poolScheduler) NewWorker() Worker {
	return &poolWorker{loop: s.pick()}
}

func (s *poolScheduler) Shutdown() {
	s.once.Do(func() {
		for _, loop := range s.loops {
			loop.mu.Lock()
			loop.shutdown = true
			close(loop.tasks)
			loop.mu.Unlock()
		}
		s.wg.Wait()
	})
}

// poolWorker pins its tasks to a single event loop. Several workers may
// share one loop; ordering within each worker still holds because the
// loop itself is FIFO.
type poolWorker struct {
	loop     *eventLoop
	disposed int32
}

func (w *poolWorker) Schedule(task func()) (Disposable, error) {
	if w.IsDisposed() {
		return nil, &SchedulerShutdownError{}
	}
	t := &scheduledTask{run: task, owner: w}
	if err := w.loop.submit(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (w *poolWorker) Dispose() {
	atomic.StoreInt32(&w.disposed, 1)
}

func (w *poolWorker) IsDisposed() bool {
	return atomic.LoadInt32(&w.disposed) == 1
}

// ============================================================================
// Immediate scheduler
// ============================================================================

// immediateScheduler runs every task inline on the calling goroutine. It
// is the explicit form of the engine's default stay-on-the-caller path.
type immediateScheduler struct{}

// NewImmediateScheduler creates a Scheduler executing tasks synchronously
// on the caller's goroutine.
func NewImmediateScheduler() Scheduler {
	return immediateScheduler{}
}

func (immediateScheduler) Schedule(task func()) (Disposable, error) {
	task()
	return NewDisposable(nil), nil
}

func (immediateScheduler) NewWorker() Worker {
	return &immediateWorker{}
}

func (immediateScheduler) Shutdown() {}

// immediateWorker serializes inline execution with a mutex so that two
// goroutines sharing the worker never interleave tasks.
type immediateWorker struct {
	mu       sync.Mutex
	disposed int32
}

func (w *immediateWorker) Schedule(task func()) (Disposable, error) {
	if w.IsDisposed() {
		return nil, &SchedulerShutdownError{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	task()
	return NewDisposable(nil), nil
}

func (w *immediateWorker) Dispose() {
	atomic.StoreInt32(&w.disposed, 1)
}

func (w *immediateWorker) IsDisposed() bool {
	return atomic.LoadInt32(&w.disposed) == 1
}

// ============================================================================
// Test scheduler
// ============================================================================

// TestScheduler queues tasks without running them until the test calls
// RunAll or RunOne, making scheduler-mediated chains fully deterministic
// and single-threaded.
type TestScheduler struct {
	mu       sync.Mutex
	queue    []*scheduledTask
	shutdown bool
}

// NewTestScheduler creates a manual scheduler for tests.
func NewTestScheduler() *TestScheduler {
	return &TestScheduler{}
}

func (s *TestScheduler) Schedule(task func()) (Disposable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, &SchedulerShutdownError{}
	}
	t := &scheduledTask{run: task}
	s.queue = append(s.queue, t)
	return t, nil
}

func (s *TestScheduler) NewWorker() Worker {
	return &testWorker{scheduler: s}
}

func (s *TestScheduler) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.queue = nil
	s.mu.Unlock()
}

// Len reports the number of queued tasks.
func (s *TestScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunOne executes the oldest queued task, reporting whether one ran.
func (s *TestScheduler) RunOne() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	if !t.IsDisposed() && (t.owner == nil || !t.owner.IsDisposed()) {
		t.run()
	}
	return true
}

// RunAll executes queued tasks, including tasks they enqueue, until the
// queue is empty.
func (s *TestScheduler) RunAll() {
	for s.RunOne() {
	}
}

type testWorker struct {
	scheduler *TestScheduler
	disposed  int32
}

func (w *testWorker) Schedule(task func()) (Disposable, error) {
	if w.IsDisposed() {
		return nil, &SchedulerShutdownError{}
	}
	s := w.scheduler
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, &SchedulerShutdownError{}
	}
	t := &scheduledTask{run: task, owner: w}
	s.queue = append(s.queue, t)
	return t, nil
}

func (w *testWorker) Dispose() {
	atomic.StoreInt32(&w.disposed, 1)
}

func (w *testWorker) IsDisposed() bool {
	return atomic.LoadInt32(&w.disposed) == 1
}
