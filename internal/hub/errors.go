package hub

// Reject kinds surfaced to clients as error frames. The kind leads the
// message so clients can branch on the prefix.
const (
	RejectInvalidMessage = "invalid_message"
	RejectStale          = "stale"
	RejectNoQuestion     = "no_question"
	RejectPaused         = "paused"
	RejectDuplicate      = "duplicate"
	RejectLateJoin       = "late_join"
	RejectTooLate        = "too_late"
	RejectUnauthorized   = "unauthorized"
	RejectNotFound       = "not_found"
)
