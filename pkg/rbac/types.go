package rbac

import "time"

// PrincipalTypeUser is the only principal type currently supported.
const PrincipalTypeUser = "user"

// Policy grants a set of actions on resources matching a pattern.
// The resource pattern is slash-delimited and may contain "*" wildcards.
type Policy struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// Role is a named collection of policies.
type Role struct {
	ID       string   `json:"id"`
	Policies []Policy `json:"policies"`
}

// Binding grants a role to a principal.
type Binding struct {
	ID            string `json:"id"`
	PrincipalID   string `json:"principalId"`
	PrincipalType string `json:"principalType"`
	RoleID        string `json:"roleId"`
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AllowDecision creates a granting decision.
func AllowDecision() Decision {
	return Decision{
		Allowed:   true,
		Message:   "Access granted",
		Timestamp: time.Now().UTC(),
	}
}

// DenyDecision creates a denying decision.
func DenyDecision() Decision {
	return Decision{
		Allowed:   false,
		Message:   "Access denied",
		Timestamp: time.Now().UTC(),
	}
}
