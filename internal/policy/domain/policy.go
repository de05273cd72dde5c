package domain

import "time"

// Policy is an operator-supplied Rego module layered on top of the built-in authorization policy.
// Modules must use package gateway.authz and may add allow or deny rules.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}

// Subject is the caller as seen by the policy.
type Subject struct {
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"tenant_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Resource is what the action targets. Empty fields are unconstrained.
type Resource struct {
	TenantID string `json:"tenant_id"`
	OwnerID  string `json:"owner_id"`
}

// Input is the document evaluated by the policy.
type Input struct {
	Subject  Subject  `json:"subject"`
	Action   string   `json:"action"`
	Resource Resource `json:"resource"`
}

// Decision is the authorization outcome.
type Decision struct {
	Allowed bool
	Reason  string
}
