package leave

// =============================================================================
// REQUEST MACHINE
// =============================================================================

type RequestStatus string

const (
	StatusDraft     RequestStatus = "draft"
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
	StatusRecorded  RequestStatus = "recorded"
)

// requestEdges is the only place request transitions are defined.
var requestEdges = map[RequestStatus][]RequestStatus{
	StatusDraft:    {StatusPending},
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled, StatusRecorded},
	StatusApproved: {StatusCancelled},
	StatusRejected: {StatusPending},
}

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusRecorded:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable in one edge.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, to := range requestEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses that block overlapping leave.
var ActiveStatuses = []RequestStatus{StatusPending, StatusApproved, StatusRecorded}

// TransitionRequest moves r to next or returns a TransitionError leaving r untouched.
func TransitionRequest(r *LeaveRequest, next RequestStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return &TransitionError{Machine: "request", ID: r.ID, From: string(r.Status), To: string(next)}
	}
	r.Status = next
	return nil
}

// =============================================================================
// STEP MACHINE
// =============================================================================

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepRejected  StepStatus = "rejected"
	StepDelegated StepStatus = "delegated"
	StepSkipped   StepStatus = "skipped"
)

var stepEdges = map[StepStatus][]StepStatus{
	StepPending:   {StepApproved, StepRejected, StepDelegated, StepSkipped},
	StepDelegated: {StepApproved},
}

// Resolved steps no longer block higher levels.
func (s StepStatus) Resolved() bool { return s == StepApproved || s == StepSkipped }

// Open steps still wait for a decision.
func (s StepStatus) Open() bool { return s == StepPending || s == StepDelegated }

// StepMachine validates step transitions. AllowDelegatedReject enables the
// delegated -> rejected edge, which is off unless an organization opts in.
type StepMachine struct {
	AllowDelegatedReject bool
}

func (m StepMachine) CanTransition(from, to StepStatus) bool {
	if m.AllowDelegatedReject && from == StepDelegated && to == StepRejected {
		return true
	}
	for _, next := range stepEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Withdraw closes an open step because its request was withdrawn. It is the
// only path from delegated to skipped; escalation and rejection skip pending
// steps through Transition.
func (m StepMachine) Withdraw(s *ApprovalStep) error {
	if !s.Status.Open() {
		return &TransitionError{Machine: "step", ID: s.ID, From: string(s.Status), To: string(StepSkipped)}
	}
	s.Status = StepSkipped
	return nil
}

// Transition moves s to next or returns a TransitionError leaving s untouched.
func (m StepMachine) Transition(s *ApprovalStep, next StepStatus) error {
	if !m.CanTransition(s.Status, next) {
		return &TransitionError{Machine: "step", ID: s.ID, From: string(s.Status), To: string(next)}
	}
	s.Status = next
	return nil
}

// =============================================================================
// STEP ORDERING AND AGGREGATION
// =============================================================================

// ActiveStep returns the lowest open level, which is the only actionable one.
func ActiveStep(steps []ApprovalStep) (*ApprovalStep, bool) {
	var active *ApprovalStep
	for i := range steps {
		s := &steps[i]
		if !s.Status.Open() {
			continue
		}
		if active == nil || s.Level < active.Level {
			active = s
		}
	}
	return active, active != nil
}

// CheckOrder returns an OutOfOrderError if any lower level is still open.
func CheckOrder(requestID string, steps []ApprovalStep, level int) error {
	for _, s := range steps {
		if s.Level < level && !s.Status.Resolved() && s.Status != StepRejected {
			return &OutOfOrderError{RequestID: requestID, Level: level, Blocking: s.Level}
		}
	}
	return nil
}

// IsFinalLevel reports whether level is the highest level of the chain.
func IsFinalLevel(steps []ApprovalStep, level int) bool {
	for _, s := range steps {
		if s.Level > level {
			return false
		}
	}
	return true
}

// Outcome aggregates step states into the request decision. done is false
// while any step is open.
func Outcome(steps []ApprovalStep) (rejected bool, done bool) {
	for _, s := range steps {
		if s.Status == StepRejected {
			return true, true
		}
	}
	approved := 0
	for _, s := range steps {
		if s.Status.Open() {
			return false, false
		}
		if s.Status == StepApproved {
			approved++
		}
	}
	return false, approved > 0
}
