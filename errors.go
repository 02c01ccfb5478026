package flowgo

import (
	"errors"
	"fmt"
)

// ErrEmptySequence is returned by blocking extraction when the sequence
// completes without emitting any item.
var ErrEmptySequence = errors.New("flowgo: sequence completed without items")

// InvalidDemandError reports a Request call with a non-positive amount.
// It is delivered to the subscriber via OnError, never panicked across
// the call boundary.
type InvalidDemandError struct {
	Requested int64
}

func (e *InvalidDemandError) Error() string {
	return fmt.Sprintf("flowgo: invalid demand %d, Request requires n > 0", e.Requested)
}

// SchedulerSaturatedError reports that a worker's task queue was full when
// a stage tried to submit work. Scheduling operators surface it downstream
// as OnError rather than blocking the producing goroutine.
type SchedulerSaturatedError struct {
	Capacity int
}

func (e *SchedulerSaturatedError) Error() string {
	return fmt.Sprintf("flowgo: scheduler saturated, worker queue capacity %d exhausted", e.Capacity)
}

// SchedulerShutdownError reports a task submitted after Shutdown.
type SchedulerShutdownError struct{}

func (e *SchedulerShutdownError) Error() string {
	return "flowgo: scheduler has been shut down"
}

// BufferOverflowError reports that a bounded operator buffer was asked to
// hold more items than upstream was ever allowed to emit. Seeing it means
// the upstream stage violated the demand protocol.
type BufferOverflowError struct {
	Capacity int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("flowgo: buffer overflow, capacity %d exceeded by upstream over-delivery", e.Capacity)
}
