// Package scope identifies the tenant coordinate every memory record and
// index entry is filed under: (user, sub_tenant, session).
package scope

import (
	"path/filepath"
	"strings"
)

// DefaultSubTenant is the fixed sub-tenant used in non-narrative modes,
// where sub-tenant (character) isolation is disabled.
const DefaultSubTenant = "_default"

// Scope is the tenant triple mapping to exactly one isolated subtree on disk.
type Scope struct {
	UserID      string
	SubTenantID string
	SessionID   string
}

// New builds a Scope, lower-casing path components at the boundary so
// every downstream path derivation is consistent across platforms with
// differing filesystem case sensitivity.
func New(userID, subTenantID, sessionID string) Scope {
	return Scope{
		UserID:      strings.ToLower(strings.TrimSpace(userID)),
		SubTenantID: strings.ToLower(strings.TrimSpace(subTenantID)),
		SessionID:   strings.ToLower(strings.TrimSpace(sessionID)),
	}
}

// Collapsed returns a copy of s with SubTenantID forced to DefaultSubTenant,
// used in non-narrative modes even when a caller supplies one.
func (s Scope) Collapsed() Scope {
	s.SubTenantID = DefaultSubTenant
	return s
}

// Equal reports whether two scopes name the same tenant subtree.
func (s Scope) Equal(other Scope) bool {
	return s.UserID == other.UserID && s.SubTenantID == other.SubTenantID && s.SessionID == other.SessionID
}

// Path returns the on-disk subtree for this scope, relative to a data root:
// data/<user>/<sub_tenant>/<session>/.
func (s Scope) Path(dataRoot string) string {
	return filepath.Join(dataRoot, "data", s.UserID, s.SubTenantID, s.SessionID)
}

// String renders a stable key for maps and log fields.
func (s Scope) String() string {
	return s.UserID + "/" + s.SubTenantID + "/" + s.SessionID
}
