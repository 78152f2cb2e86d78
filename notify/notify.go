/*
Package notify provides Notifier adapters.

PURPOSE:
  The workflow tells people that something needs their attention; how the
  message travels is not its concern. Delivery is fire-and-forget: Send logs
  failures and never hands them back to the workflow.

ADAPTERS:
  LogNotifier:  writes each notification as a zap log line (development)
  SMTPNotifier: e-mail through an SMTP relay (smtp.go)
  Multi:        fan-out to several notifiers

RECIPIENTS:
  Recipients are employee ids, or "role:<role>" addresses that adapters expand
  through the org directory (see leave.RoleRecipient).
*/
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

// Send delivers n and logs any failure.
func Send(ctx context.Context, notifier leave.Notifier, logger *zap.Logger, n leave.Notification) {
	if notifier == nil || len(n.Recipients) == 0 {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		logger.Warn("notification failed",
			zap.String("kind", string(n.Kind)),
			zap.String("request_id", n.RequestID),
			zap.Strings("recipients", n.Recipients),
			zap.Error(err))
	}
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg leave.Notification) error {
	n.logger.Info(msg.Subject,
		zap.String("kind", string(msg.Kind)),
		zap.String("request_id", msg.RequestID),
		zap.Strings("recipients", msg.Recipients),
		zap.String("body", msg.Body))
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

type Multi []leave.Notifier

func (m Multi) Notify(ctx context.Context, n leave.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
