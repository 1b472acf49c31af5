// Package tenancy scopes pipeline work to a channel. Every daemon process
// serves exactly one tenant except the shared renderer pool, which accepts
// work from all tenants.
package tenancy

import (
	"fmt"
	"regexp"
	"strings"
)

// SharedPool is the reserved tenant identifier for the renderer pool shared
// across channels. It never owns work items of its own.
const SharedPool = "shared-pool"

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateID checks a tenant identifier against the naming rules. The shared
// pool name is reserved and rejected for regular tenants.
func ValidateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("tenant id is required")
	}
	if id == SharedPool {
		return fmt.Errorf("tenant id %q is reserved", SharedPool)
	}
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("tenant id %q must be lowercase letters, digits, and dashes", id)
	}
	return nil
}

// Policy decides which events a consumer may act on.
type Policy struct {
	tenantID string
}

// NewPolicy builds a policy for the given tenant. Use SharedPool for the
// renderer pool.
func NewPolicy(tenantID string) Policy {
	return Policy{tenantID: strings.TrimSpace(tenantID)}
}

// ID returns the tenant this policy serves.
func (p Policy) ID() string {
	return p.tenantID
}

// Shared reports whether this policy serves the shared pool.
func (p Policy) Shared() bool {
	return p.tenantID == SharedPool
}

// Accepts reports whether an event owned by the given tenant may be processed
// under this policy. The shared pool accepts every tenant's work.
func (p Policy) Accepts(eventTenant string) bool {
	if p.Shared() {
		return true
	}
	return p.tenantID != "" && p.tenantID == eventTenant
}
