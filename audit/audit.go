/*
Package audit provides AuditSink adapters.

PURPOSE:
  Every state change in the workflow produces an audit record. Records are
  written after the change commits; a failing sink is logged and never undoes
  the change it describes.

ADAPTERS:
  LogSink:  structured zap log line per record (stdout / log shipping)
  Multi:    fan-out to several sinks, first error wins, all sinks attempted

  store/memory and store/sqlite implement leave.AuditLog for queryable history.

SEE ALSO:
  - leave/ports.go: AuditEntry, AuditSink
*/
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

// Emit fills in ID and Timestamp, records the entry and logs any failure.
func Emit(ctx context.Context, sink leave.AuditSink, logger *zap.Logger, e leave.AuditEntry) {
	if sink == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := sink.Record(ctx, e); err != nil {
		logger.Error("audit record failed",
			zap.String("action", string(e.Action)),
			zap.String("request_id", e.RequestID),
			zap.Error(err))
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, e leave.AuditEntry) error {
	fields := []zap.Field{
		zap.String("audit_id", e.ID),
		zap.Time("timestamp", e.Timestamp),
		zap.String("action", string(e.Action)),
		zap.String("actor_id", e.ActorID),
	}
	if e.EmployeeID != "" {
		fields = append(fields, zap.String("employee_id", e.EmployeeID))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

type Multi []leave.AuditSink

func (m Multi) Record(ctx context.Context, e leave.AuditEntry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
