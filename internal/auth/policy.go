package auth

// FailureDomain identifies which collaborator failed when an infrastructure
// error occurs mid-request.
type FailureDomain int

const (
	DomainThrottleStore FailureDomain = iota
	DomainSessionStore
	DomainChallengeVerifier
)

// FailurePolicy says what a store or verifier error does to the request.
type FailurePolicy int

const (
	// FailOpen lets the request proceed; the error is only logged.
	FailOpen FailurePolicy = iota
	// FailClosed rejects the request.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

// failurePolicies is the single place the open/closed choice lives; the
// throttle, the session guard, and the challenge gate consult it on their
// error paths. Throttle-store errors fail open so a store outage cannot
// take the login endpoint down with it; session-store errors fail closed
// because letting a request through with unknown session state would be a
// security regression; challenge errors fail closed because a timeout must
// not grant a free pass through the CAPTCHA gate.
var failurePolicies = map[FailureDomain]FailurePolicy{
	DomainThrottleStore:     FailOpen,
	DomainSessionStore:      FailClosed,
	DomainChallengeVerifier: FailClosed,
}

// PolicyFor returns the failure policy for a domain
func PolicyFor(domain FailureDomain) FailurePolicy {
	return failurePolicies[domain]
}
