// Observation stage and the package logger it writes through.
package flowgo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	loggerMu  sync.RWMutex
	pkgLogger = zerolog.Nop()
)

// SetLogger installs the zerolog logger used by Log stages and by internal
// dropped-signal paths. The default logger discards everything.
func SetLogger(logger zerolog.Logger) {
	loggerMu.Lock()
	pkgLogger = logger
	loggerMu.Unlock()
}

// Logger returns the currently installed package logger.
func Logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return pkgLogger
}

// ============================================================================
// Log stage
// ============================================================================

// logSubscriber records every lifecycle signal crossing this point of the
// chain. It is transparent: items, demand and termination pass through
// unchanged, so removing it never alters the outcome of the sequence.
type logSubscriber struct {
	name       string
	id         string
	downstream Subscriber
}

func newLogSubscriber(name string, downstream Subscriber) *logSubscriber {
	return &logSubscriber{
		name:       name,
		id:         uuid.NewString()[:8],
		downstream: downstream,
	}
}

func (ls *logSubscriber) event(signal string) *zerolog.Event {
	logger := Logger()
	return logger.Debug().
		Str("stage", ls.name).
		Str("subscription", ls.id).
		Str("signal", signal)
}

func (ls *logSubscriber) OnSubscribe(s Subscription) {
	ls.event("onSubscribe").Send()
	ls.downstream.OnSubscribe(&logSubscription{owner: ls, delegate: s})
}

func (ls *logSubscriber) OnNext(value any) {
	ls.event("onNext").Interface("value", value).Send()
	ls.downstream.OnNext(value)
}

func (ls *logSubscriber) OnError(err error) {
	ls.event("onError").Err(err).Send()
	ls.downstream.OnError(err)
}

func (ls *logSubscriber) OnComplete() {
	ls.event("onComplete").Send()
	ls.downstream.OnComplete()
}

// logSubscription observes the demand side of the same binding.
type logSubscription struct {
	owner    *logSubscriber
	delegate Subscription
}

func (s *logSubscription) Request(n int64) {
	s.owner.event("request").Int64("n", n).Send()
	s.delegate.Request(n)
}

func (s *logSubscription) Cancel() {
	s.owner.event("cancel").Send()
	s.delegate.Cancel()
}

func (s *logSubscription) IsCancelled() bool {
	return s.delegate.IsCancelled()
}
