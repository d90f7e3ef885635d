// Package rbac resolves which billing permissions a role carries and
// guards HTTP routes accordingly.
package rbac

import (
	"sort"
	"strings"

	"github.com/lexledger/lexledger/internal/shared"
)

// Role names accepted in the X-User-Role header.
const (
	RolePartner      = "partner"
	RoleAssociate    = "associate"
	RoleBillingClerk = "billing_clerk"
	RoleViewer       = "viewer"
)

// Role is a named bundle of permissions.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

var roleTable = map[string][]string{
	RolePartner:      shared.BillingScopes(),
	RoleAssociate:    {shared.PermBillingView, shared.PermBillingEdit},
	RoleBillingClerk: {shared.PermBillingView, shared.PermBillingApprove, shared.PermBillingPayments, shared.PermBillingAudit},
	RoleViewer:       {shared.PermBillingView},
}

// Roles lists the known roles ordered by name.
func Roles() []Role {
	roles := make([]Role, 0, len(roleTable))
	for name := range roleTable {
		roles = append(roles, Role{Name: name, Permissions: PermissionsFor(name)})
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles
}

// PermissionsFor returns the permissions granted to role. Unknown roles get none.
func PermissionsFor(role string) []string {
	perms := roleTable[strings.ToLower(strings.TrimSpace(role))]
	return append([]string(nil), perms...)
}
