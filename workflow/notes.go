package workflow

import (
	"fmt"

	"github.com/warp/leave-portal/leave"
)

// Notification builders. Recipients are employee ids or "role:<role>".

func approvalNeeded(r *leave.LeaveRequest, step *leave.ApprovalStep) leave.Notification {
	return leave.Notification{
		Kind:       leave.NotifyApprovalNeeded,
		Recipients: step.Recipients(),
		RequestID:  r.ID,
		Subject:    fmt.Sprintf("Leave request awaiting your approval (level %d)", step.Level),
		Body: fmt.Sprintf("%s requested %s days of %s leave from %s to %s.",
			r.EmployeeID, r.Days, r.LeaveType, r.StartDate, r.EndDate),
	}
}

func delegated(r *leave.LeaveRequest, step *leave.ApprovalStep, by string) leave.Notification {
	return leave.Notification{
		Kind:       leave.NotifyDelegated,
		Recipients: []string{step.DelegateID},
		RequestID:  r.ID,
		Subject:    "Leave approval delegated to you",
		Body: fmt.Sprintf("%s delegated level %d of %s's %s leave request (%s to %s) to you.",
			by, step.Level, r.EmployeeID, r.LeaveType, r.StartDate, r.EndDate),
	}
}

func decided(r *leave.LeaveRequest, comment string) leave.Notification {
	body := fmt.Sprintf("Your %s leave from %s to %s is now %s.", r.LeaveType, r.StartDate, r.EndDate, r.Status)
	if comment != "" {
		body += "\n\nComment: " + comment
	}
	return leave.Notification{
		Kind:       leave.NotifyDecision,
		Recipients: []string{r.EmployeeID},
		RequestID:  r.ID,
		Subject:    fmt.Sprintf("Leave request %s", r.Status),
		Body:       body,
	}
}
