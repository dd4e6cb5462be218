// Package telemetry delivers per-operation records to sinks without ever
// blocking the caller.
package telemetry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

// Operation names.
const (
	OpExtract  = "extract"
	OpResolve  = "resolve"
	OpTraverse = "traverse"
	OpMatch    = "match"
	OpRecovery = "recovery"
	OpAction   = "action"
	OpSlowPath = "slow_path"
	OpDispatch = "dispatch"
	OpPrefetch = "prefetch"
)

// DefaultBuffer is the Async queue size.
const DefaultBuffer = 1024

// Nop discards records.
type Nop struct{}

// Record implements core.TelemetrySink.
func (Nop) Record(core.TelemetryRecord) {}

// Multi fans a record out to several sinks.
type Multi []core.TelemetrySink

// Record implements core.TelemetrySink.
func (m Multi) Record(rec core.TelemetryRecord) {
	for _, s := range m {
		if s != nil {
			s.Record(rec)
		}
	}
}

// Async delivers records to an inner sink from one background goroutine.
// Record never blocks: when the buffer is full the record is dropped.
type Async struct {
	inner   core.TelemetrySink
	ch      chan core.TelemetryRecord
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	log     *slog.Logger
}

// NewAsync starts the delivery goroutine. buffer <= 0 uses DefaultBuffer.
func NewAsync(inner core.TelemetrySink, buffer int, log *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{
		inner: inner,
		ch:    make(chan core.TelemetryRecord, buffer),
		done:  make(chan struct{}),
		log:   logger.OrDiscard(log),
	}
	go a.loop()
	return a
}

// Record queues rec for delivery. Non-blocking; drops if buffer full or closed.
func (a *Async) Record(rec core.TelemetryRecord) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- rec:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close drains the buffer and stops the goroutine.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return nil
}

func (a *Async) loop() {
	defer close(a.done)
	for rec := range a.ch {
		a.deliver(rec)
	}
}

func (a *Async) deliver(rec core.TelemetryRecord) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("telemetry sink panicked", "operation", rec.Operation, "panic", r)
		}
	}()
	a.inner.Record(rec)
}

// LogSink writes records to a slog logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Record implements core.TelemetrySink.
func (s LogSink) Record(rec core.TelemetryRecord) {
	l := logger.OrDiscard(s.Logger)
	attrs := []any{
		"command", rec.CommandID,
		"operation", rec.Operation,
		"duration", rec.Duration,
		"success", rec.Success,
	}
	if rec.Cache != core.CacheNone {
		attrs = append(attrs, "cache", rec.Cache)
	}
	if rec.Strategy != "" {
		attrs = append(attrs, "strategy", rec.Strategy)
	}
	if rec.Reason != "" {
		attrs = append(attrs, "reason", rec.Reason)
	}
	l.Debug("telemetry", attrs...)
}

// Span times one operation and reports it exactly once on End.
//
//	span := telemetry.Start(sink, cmd.ID, telemetry.OpTraverse)
//	defer span.End()
type Span struct {
	sink  core.TelemetrySink
	rec   core.TelemetryRecord
	start time.Time
	now   func() time.Time
	ended bool
}

// Start begins a span. A nil sink is allowed.
func Start(sink core.TelemetrySink, commandID, operation string) *Span {
	return startAt(sink, commandID, operation, time.Now)
}

func startAt(sink core.TelemetrySink, commandID, operation string, now func() time.Time) *Span {
	return &Span{
		sink:  sink,
		rec:   core.TelemetryRecord{CommandID: commandID, Operation: operation},
		start: now(),
		now:   now,
	}
}

// Succeed marks the span successful.
func (s *Span) Succeed() *Span {
	s.rec.Success = true
	return s
}

// Fail marks the span failed with reason.
func (s *Span) Fail(reason string) *Span {
	s.rec.Success = false
	s.rec.Reason = reason
	return s
}

// SetSuccess sets the success flag.
func (s *Span) SetSuccess(ok bool) *Span {
	s.rec.Success = ok
	return s
}

// Cache records a cache lookup result.
func (s *Span) Cache(hit bool) *Span {
	if hit {
		s.rec.Cache = core.CacheHit
	} else {
		s.rec.Cache = core.CacheMiss
	}
	return s
}

// Strategy records the recovery strategy involved.
func (s *Span) Strategy(name string) *Span {
	s.rec.Strategy = name
	return s
}

// End reports the span. Later calls do nothing.
func (s *Span) End() time.Duration {
	if s.ended {
		return s.rec.Duration
	}
	s.ended = true
	end := s.now()
	s.rec.Duration = end.Sub(s.start)
	s.rec.Timestamp = end
	if s.sink != nil {
		s.sink.Record(s.rec)
	}
	return s.rec.Duration
}
