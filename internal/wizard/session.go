package wizard

// DynamicFieldID identifies one selectable element of the wizard markup. It
// is only meaningful within the session whose responses it was found in.
type DynamicFieldID string

// Session is the state of one registration attempt. It is a value: every
// step and round trip receives the current session and returns the next
// one, nothing else holds on to it.
type Session struct {
	AttemptID string
	Tokens    Tokens
	// Cursor counts accepted steps, it only ever moves forward by one.
	Cursor int
	// LastResponseBody is the most recent raw response, later steps recover
	// dynamic field ids from it.
	LastResponseBody string
	// TransactionReference is set by the final step.
	TransactionReference string
	Warnings             []string
	RoundTrips           int
}

// WindowID is the window id the next request must be addressed to.
func (s Session) WindowID() string {
	return s.Tokens.WindowID
}

func (s Session) withWarning(warning string) Session {
	warnings := make([]string, len(s.Warnings), len(s.Warnings)+1)
	copy(warnings, s.Warnings)
	s.Warnings = append(warnings, warning)
	return s
}
