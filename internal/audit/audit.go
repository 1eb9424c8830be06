// Package audit is an external, best-effort observer of kernel safety
// events -- task aborts, activation losses, process suspensions. The
// kernel itself keeps no persisted state and never depends on the
// outcome of a write here; a Sink only ever watches from outside. Its
// Observer methods run synchronously on the kernel's calling goroutine,
// each Redis write bounded by a one-second timeout.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pceos/kernel/internal/kernel"
)

// Kind distinguishes the safety events a Sink records.
type Kind string

const (
	KindActivationLoss  Kind = "activation_loss"
	KindTaskAbort       Kind = "task_abort"
	KindProcessSuspend  Kind = "process_suspend"
	KindSupervisorAlert Kind = "supervisor_alert"
)

// Record is one audit entry, appended to a Redis stream for
// after-the-fact inspection by an operator.
type Record struct {
	Kind      Kind      `json:"kind"`
	PID       int       `json:"pid,omitempty"`
	EventID   int       `json:"event_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Sink appends Records to a Redis stream, best-effort -- a write
// failure is logged and dropped, never returned to the kernel caller,
// since an audit-trail outage must never become a reason to abort a
// task or miss a deadline.
type Sink struct {
	client    *redis.Client
	log       *zap.Logger
	streamKey string
}

// NewSink constructs a Sink, pinging addr once at startup the same way
// redis.NewClient does, purely for an early diagnostic log line -- a
// failed ping does not prevent construction, since the sink must
// degrade to a no-op rather than block kernel startup.
func NewSink(addr string, db int, streamKey string, log *zap.Logger) *Sink {
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	}
	client := redis.NewClient(opts)
	log = log.Named("audit")

	pingCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("connection failed", zap.Error(err), zap.String("addr", addr))
	} else {
		log.Info("connection established", zap.String("addr", addr))
	}

	return &Sink{client: client, log: log, streamKey: streamKey}
}

// Close releases the underlying Redis connection pool.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Record appends rec to the audit stream, best-effort. Any Redis error
// is logged at Warn and swallowed.
func (s *Sink) Record(ctx context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("marshal audit record failed", zap.Error(err), zap.String("kind", string(rec.Kind)))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	if err := s.client.XAdd(writeCtx, &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]any{"record": payload},
	}).Err(); err != nil {
		s.log.Warn("audit write failed", zap.Error(err), zap.String("kind", string(rec.Kind)))
	}
}

// TaskAbort records a task-abort failure against pid for the given
// event, alongside the kernel's own per-kind failure counters. It
// satisfies kernel.Observer, so a Sink can be installed directly as a
// kernel's Observer.
func (s *Sink) TaskAbort(pid, eventID int, kind kernel.FailureKind) {
	s.Record(context.Background(), Record{
		Kind:      KindTaskAbort,
		PID:       pid,
		EventID:   eventID,
		Detail:    kind.String(),
		Timestamp: time.Now(),
	})
}

// ActivationLoss records a soft overrun.
func (s *Sink) ActivationLoss(eventID int) {
	s.Record(context.Background(), Record{Kind: KindActivationLoss, EventID: eventID, Timestamp: time.Now()})
}

// ProcessSuspend records a supervisor-initiated suspend-process call.
func (s *Sink) ProcessSuspend(callerPID, targetPID int) {
	s.Record(context.Background(), Record{
		Kind:      KindProcessSuspend,
		PID:       targetPID,
		Detail:    fmt.Sprintf("suspended by pid %d", callerPID),
		Timestamp: time.Now(),
	})
}

var _ kernel.Observer = (*Sink)(nil)
