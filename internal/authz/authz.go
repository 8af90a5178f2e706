// Package authz decides whether a chat caller may run privileged commands.
package authz

// Policy classifies a caller as privileged or not.
type Policy interface {
	// IsAdmin reports whether callerID may run admin-only commands.
	IsAdmin(callerID string) bool
}

// AdminPolicy grants admin rights to exactly one configured identifier.
type AdminPolicy struct {
	adminID string
}

// NewAdminPolicy returns a policy matching adminID by exact equality.
// An empty adminID grants nobody.
func NewAdminPolicy(adminID string) *AdminPolicy {
	return &AdminPolicy{adminID: adminID}
}

// IsAdmin implements Policy.
func (p *AdminPolicy) IsAdmin(callerID string) bool {
	return p.adminID != "" && callerID == p.adminID
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(callerID string) bool

// IsAdmin implements Policy.
func (f PolicyFunc) IsAdmin(callerID string) bool { return f(callerID) }
