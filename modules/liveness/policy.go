package liveness

// StatusPolicy maps a remote status to an outcome.
//
// CREATED and EXPIRED are accepted with a warning by default: the
// interactive gesture step is not performed client-side, so a session that
// never saw a gesture is still worth validating from the uploaded still.
// Turning either flag off makes that status a rejection.
type StatusPolicy struct {
	AcceptCreated bool `yaml:"accept_created"`
	AcceptExpired bool `yaml:"accept_expired"`
}

// DefaultStatusPolicy accepts CREATED and EXPIRED with a warning
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{AcceptCreated: true, AcceptExpired: true}
}

// StrictStatusPolicy accepts only SUCCEEDED
func StrictStatusPolicy() StatusPolicy {
	return StatusPolicy{}
}

// Interpret maps a status to an outcome. Unknown statuses are Rejected.
func (p StatusPolicy) Interpret(s Status) Outcome {
	switch s {
	case StatusSucceeded:
		return Accepted
	case StatusCreated:
		if p.AcceptCreated {
			return AcceptedWithWarning
		}
	case StatusExpired:
		if p.AcceptExpired {
			return AcceptedWithWarning
		}
	}
	return Rejected
}
