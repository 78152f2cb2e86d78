/*
scheduler.go - Reminder and escalation scheduler

PURPOSE:
  Periodically scans pending requests for approval steps that have been
  waiting too long, reminds the approver, nudges HR about requests that are
  stuck, and (when configured) escalates a stale level to the next one.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Scan is also callable directly (admin endpoint, tests)
  - Reminders are de-duplicated through a leave.ReminderStore so repeated
    or concurrent scans send at most one reminder per step per window
  - Escalation re-reads the step inside a transaction and gives up if an
    approver acted in the meantime

ESCALATION:
  pending --EscalateAfter--> skipped, next level activated
  Only when EscalateAfter > ReminderAfter. The final level is never skipped
  and delegated steps are never escalated.

USAGE:
  s := scheduler.New(store, dedup, notifier, sink, cfg, logger)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - redisdedup/: ReminderStore on Redis for multi-instance deployments
  - workflow/decide.go: the manual counterpart of escalation
*/
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/audit"
	"github.com/warp/leave-portal/leave"
	"github.com/warp/leave-portal/notify"
)

// SystemActor is the actor recorded for scheduler-driven changes.
const SystemActor = "system:scheduler"

type Config struct {
	Enabled         bool
	Interval        time.Duration
	ReminderAfter   time.Duration
	HRReminderAfter time.Duration
	EscalateAfter   time.Duration
	DedupWindow     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Interval:        time.Hour,
		ReminderAfter:   24 * time.Hour,
		HRReminderAfter: 72 * time.Hour,
		DedupWindow:     12 * time.Hour,
	}
}

// EscalationEnabled reports whether stale steps are escalated.
func (c Config) EscalationEnabled() bool {
	return c.EscalateAfter > 0 && c.EscalateAfter > c.ReminderAfter
}

type EventKind string

const (
	EventReminder   EventKind = "reminder"
	EventHRReminder EventKind = "hr_reminder"
	EventEscalated  EventKind = "escalated"
)

// ReminderEvent is one action taken by a scan.
type ReminderEvent struct {
	Kind       EventKind     `json:"kind"`
	RequestID  string        `json:"request_id"`
	Round      int           `json:"round"`
	Level      int           `json:"level,omitempty"`
	Recipients []string      `json:"recipients"`
	Waiting    time.Duration `json:"waiting"`
}

type Scheduler struct {
	store    leave.TxStore
	dedup    leave.ReminderStore
	notifier leave.Notifier
	audit    leave.AuditSink
	cfg      Config
	steps    leave.StepMachine
	logger   *zap.Logger
	now      func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func New(store leave.TxStore, dedup leave.ReminderStore, notifier leave.Notifier, sink leave.AuditSink, cfg Config, logger ...*zap.Logger) *Scheduler {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	l = l.Named("scheduler")
	if cfg.EscalateAfter > 0 && !cfg.EscalationEnabled() {
		l.Warn("escalation disabled: escalate_after must exceed reminder_after",
			zap.Duration("escalate_after", cfg.EscalateAfter),
			zap.Duration("reminder_after", cfg.ReminderAfter))
	}
	return &Scheduler{
		store:    store,
		dedup:    dedup,
		notifier: notifier,
		audit:    sink,
		cfg:      cfg,
		logger:   l,
		now:      time.Now,
	}
}

// WithClock replaces the time source used by the background loop.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// =============================================================================
// BACKGROUND LOOP
// =============================================================================

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	s.ticker = time.NewTicker(interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.ticker, s.stop)

	s.logger.Info("started", zap.Duration("interval", interval))
}

// Stop stops the scheduler and waits for an in-flight scan.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("stopped")
}

// Run starts the loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.Scan(ctx, s.now()); err != nil {
		s.logger.Error("scan failed", zap.Error(err))
	}
}

// RunNow triggers an immediate scan (admin endpoint).
func (s *Scheduler) RunNow(ctx context.Context) ([]ReminderEvent, error) {
	return s.Scan(ctx, s.now())
}

// NextRunTime returns when the next scheduled scan will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return s.now().Add(s.cfg.Interval)
}

// =============================================================================
// SCAN
// =============================================================================

// Scan examines every pending request as of now and returns what it did.
// A failure on one request is logged and does not stop the scan.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) ([]ReminderEvent, error) {
	pending, err := s.store.ListRequests(ctx, leave.RequestFilter{
		Statuses: []leave.RequestStatus{leave.StatusPending},
	})
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}

	var events []ReminderEvent
	for i := range pending {
		r := &pending[i]
		evs, err := s.scanRequest(ctx, r, now)
		if err != nil {
			s.logger.Error("scan request failed", zap.String("request_id", r.ID), zap.Error(err))
		}
		events = append(events, evs...)
	}

	if len(events) > 0 {
		s.logger.Info("scan completed",
			zap.Int("pending", len(pending)),
			zap.Int("events", len(events)))
	}
	return events, nil
}

func (s *Scheduler) scanRequest(ctx context.Context, r *leave.LeaveRequest, now time.Time) ([]ReminderEvent, error) {
	var events []ReminderEvent

	if step, ok := leave.ActiveStep(r.Steps); ok {
		since := step.WaitingSince()
		waiting := now.Sub(since)
		if !since.IsZero() && s.cfg.ReminderAfter > 0 && waiting >= s.cfg.ReminderAfter {
			ev, sent, err := s.remind(ctx, r, step, waiting, now)
			if err != nil {
				return events, err
			}
			if sent {
				events = append(events, ev)
			}
		}
		if !since.IsZero() && s.cfg.EscalationEnabled() && waiting >= s.cfg.EscalateAfter &&
			step.Status == leave.StepPending && !leave.IsFinalLevel(r.Steps, step.Level) {
			ev, escalated, err := s.escalate(ctx, r.ID, step.Level, now)
			if err != nil {
				return events, err
			}
			if escalated {
				events = append(events, ev)
			}
		}
	}

	if s.cfg.HRReminderAfter > 0 && !r.SubmittedAt.IsZero() && now.Sub(r.SubmittedAt) >= s.cfg.HRReminderAfter {
		ev, sent, err := s.remindHR(ctx, r, now)
		if err != nil {
			return events, err
		}
		if sent {
			events = append(events, ev)
		}
	}
	return events, nil
}

// =============================================================================
// REMINDERS
// =============================================================================

func reminderKey(r *leave.LeaveRequest, level int) string {
	return fmt.Sprintf("reminder:%s:%d:%d", r.ID, r.Round, level)
}

func hrReminderKey(r *leave.LeaveRequest) string {
	return fmt.Sprintf("hr_reminder:%s:%d", r.ID, r.Round)
}

func (s *Scheduler) remind(ctx context.Context, r *leave.LeaveRequest, step *leave.ApprovalStep, waiting time.Duration, now time.Time) (ReminderEvent, bool, error) {
	claimed, err := s.dedup.ClaimReminder(ctx, reminderKey(r, step.Level), now, s.cfg.DedupWindow)
	if err != nil || !claimed {
		return ReminderEvent{}, false, err
	}

	ev := ReminderEvent{
		Kind:       EventReminder,
		RequestID:  r.ID,
		Round:      r.Round,
		Level:      step.Level,
		Recipients: step.Recipients(),
		Waiting:    waiting,
	}
	s.record(ctx, r, now, map[string]any{
		"kind":    string(EventReminder),
		"level":   step.Level,
		"waiting": waiting.String(),
	})
	notify.Send(ctx, s.notifier, s.logger, leave.Notification{
		Kind:       leave.NotifyReminder,
		Recipients: ev.Recipients,
		RequestID:  r.ID,
		Subject:    "Reminder: leave request awaiting your approval",
		Body: fmt.Sprintf("%s's %s leave from %s to %s has been waiting %s for level %d.",
			r.EmployeeID, r.LeaveType, r.StartDate, r.EndDate, waiting.Round(time.Hour), step.Level),
	})
	return ev, true, nil
}

func (s *Scheduler) remindHR(ctx context.Context, r *leave.LeaveRequest, now time.Time) (ReminderEvent, bool, error) {
	claimed, err := s.dedup.ClaimReminder(ctx, hrReminderKey(r), now, s.cfg.DedupWindow)
	if err != nil || !claimed {
		return ReminderEvent{}, false, err
	}

	waiting := now.Sub(r.SubmittedAt)
	ev := ReminderEvent{
		Kind:       EventHRReminder,
		RequestID:  r.ID,
		Round:      r.Round,
		Recipients: []string{leave.RoleRecipient(leave.RoleHR)},
		Waiting:    waiting,
	}
	s.record(ctx, r, now, map[string]any{
		"kind":    string(EventHRReminder),
		"waiting": waiting.String(),
	})
	notify.Send(ctx, s.notifier, s.logger, leave.Notification{
		Kind:       leave.NotifyHRReminder,
		Recipients: ev.Recipients,
		RequestID:  r.ID,
		Subject:    "Leave request pending for too long",
		Body: fmt.Sprintf("%s's %s leave request submitted %s ago is still pending.",
			r.EmployeeID, r.LeaveType, waiting.Round(time.Hour)),
	})
	return ev, true, nil
}

func (s *Scheduler) record(ctx context.Context, r *leave.LeaveRequest, now time.Time, details map[string]any) {
	audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  now.UTC(),
		Action:     leave.AuditReminderSent,
		ActorID:    SystemActor,
		EmployeeID: r.EmployeeID,
		RequestID:  r.ID,
		Details:    details,
	})
}

// =============================================================================
// ESCALATION
// =============================================================================

// escalate skips level and activates the next one. The request is re-read
// in the transaction; if the level was decided meanwhile nothing happens.
func (s *Scheduler) escalate(ctx context.Context, requestID string, level int, now time.Time) (ReminderEvent, bool, error) {
	var (
		ev      ReminderEvent
		done    bool
		request leave.LeaveRequest
		skipped leave.ApprovalStep
	)
	err := s.store.WithTx(ctx, func(tx leave.Store) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.Status != leave.StatusPending {
			return nil
		}
		active, ok := leave.ActiveStep(r.Steps)
		if !ok || active.Level != level || active.Status != leave.StepPending {
			return nil
		}
		if now.Sub(active.WaitingSince()) < s.cfg.EscalateAfter || leave.IsFinalLevel(r.Steps, level) {
			return nil
		}

		if err := s.steps.Transition(active, leave.StepSkipped); err != nil {
			return err
		}
		active.DecidedBy = SystemActor
		active.DecidedAt = now
		active.Comment = "escalated after " + s.cfg.EscalateAfter.String()
		if err := tx.UpdateStep(ctx, active); err != nil {
			return err
		}
		skipped = *active

		next, ok := leave.ActiveStep(r.Steps)
		if !ok {
			return fmt.Errorf("request %s has no level after %d", r.ID, level)
		}
		next.ActivatedAt = now
		if err := tx.UpdateStep(ctx, next); err != nil {
			return err
		}
		r.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}

		ev = ReminderEvent{
			Kind:       EventEscalated,
			RequestID:  r.ID,
			Round:      r.Round,
			Level:      next.Level,
			Recipients: next.Recipients(),
			Waiting:    now.Sub(skipped.WaitingSince()),
		}
		request = *r
		done = true
		return nil
	})
	if err != nil {
		if leave.IsRetryable(err) {
			// An approver got there first; the next scan sees the new state.
			s.logger.Debug("escalation lost race", zap.String("request_id", requestID), zap.Int("level", level))
			return ReminderEvent{}, false, nil
		}
		return ReminderEvent{}, false, fmt.Errorf("escalate %s level %d: %w", requestID, level, err)
	}
	if !done {
		return ReminderEvent{}, false, nil
	}

	s.logger.Info("step escalated",
		zap.String("request_id", requestID),
		zap.Int("from_level", level),
		zap.Int("to_level", ev.Level))
	audit.Emit(ctx, s.audit, s.logger, leave.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  now.UTC(),
		Action:     leave.AuditStepSkipped,
		ActorID:    SystemActor,
		EmployeeID: request.EmployeeID,
		RequestID:  request.ID,
		Details: map[string]any{
			"level":    skipped.Level,
			"reason":   "escalated",
			"to_level": ev.Level,
		},
	})
	notify.Send(ctx, s.notifier, s.logger, leave.Notification{
		Kind:       leave.NotifyEscalated,
		Recipients: ev.Recipients,
		RequestID:  request.ID,
		Subject:    "Leave request escalated to you",
		Body: fmt.Sprintf("Level %d did not act on %s's %s leave within %s; the request now awaits your approval.",
			skipped.Level, request.EmployeeID, request.LeaveType, s.cfg.EscalateAfter),
	})
	return ev, true, nil
}
