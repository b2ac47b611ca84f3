package workflow

// Step numbering and labels are pure functions of (type, status). They are
// written as switches without a default so a new status must be added here
// explicitly; the table test in labels_test.go walks every machine state.

// StepIndex returns the "step N of total" position of a status. Draft and
// closed-without-approval states report step 0.
func StepIndex(t Type, s Status) (step, total int, ok bool) {
	switch t {
	case Manpower:
		switch s {
		case StatusDraft, StatusRejected, StatusArchived, StatusCancelled:
			return 0, 4, true
		case StatusPendingHR:
			return 1, 4, true
		case StatusPendingFinance:
			return 2, 4, true
		case StatusPendingCEO:
			return 3, 4, true
		case StatusApprovedOpen, StatusHiringInProgress, StatusCompleted:
			return 4, 4, true
		}
	case BusinessTrip:
		switch s {
		case StatusDraft, StatusRejected, StatusCancelled:
			return 0, 4, true
		case StatusPendingManager:
			return 1, 4, true
		case StatusPendingHR:
			return 2, 4, true
		case StatusPendingFinance:
			return 3, 4, true
		case StatusApproved, StatusCompleted:
			return 4, 4, true
		}
	case Separation:
		switch s {
		case StatusDraft, StatusRejected:
			return 0, 3, true
		case StatusSubmitted:
			return 1, 3, true
		case StatusApproved:
			return 2, 3, true
		case StatusCompleted:
			return 3, 3, true
		}
	}
	return 0, 0, false
}

// StepName returns the human label of the stage a status represents. It is
// recorded on every approval log entry.
func StepName(t Type, s Status) (string, bool) {
	switch t {
	case Manpower:
		switch s {
		case StatusDraft:
			return "Draft", true
		case StatusPendingHR:
			return "HR Review", true
		case StatusPendingFinance:
			return "Finance Review", true
		case StatusPendingCEO:
			return "CEO Approval", true
		case StatusApprovedOpen:
			return "Open Position", true
		case StatusHiringInProgress:
			return "Hiring", true
		case StatusCompleted:
			return "Completed", true
		case StatusRejected:
			return "Rejected", true
		case StatusArchived:
			return "Archived", true
		case StatusCancelled:
			return "Cancelled", true
		}
	case BusinessTrip:
		switch s {
		case StatusDraft:
			return "Draft", true
		case StatusPendingManager:
			return "Manager Review", true
		case StatusPendingHR:
			return "HR Review", true
		case StatusPendingFinance:
			return "Finance Review", true
		case StatusApproved:
			return "Approved", true
		case StatusCompleted:
			return "Completed", true
		case StatusRejected:
			return "Rejected", true
		case StatusCancelled:
			return "Cancelled", true
		}
	case Separation:
		switch s {
		case StatusDraft:
			return "Draft", true
		case StatusSubmitted:
			return "HR Review", true
		case StatusApproved:
			return "Clearance", true
		case StatusCompleted:
			return "Completed", true
		case StatusRejected:
			return "Rejected", true
		}
	}
	return "", false
}
