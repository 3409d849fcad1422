package auth

import (
	"fmt"
	"slices"

	"bloodbank-auth/internal/apperr"
)

var (
	permissionModules = []string{"inventory", "requests", "donors", "staff", "reports", "alerts", "analytics", "patients"}
	permissionActions = []string{"create", "read", "update", "delete", "approve", "reject"}
)

// DefaultPermissions is the grant given to a new organization admin.
func DefaultPermissions(role Role) []Permission {
	base := []Permission{
		{Module: "inventory", Actions: []string{"create", "read", "update", "delete"}},
		{Module: "requests", Actions: []string{"create", "read", "update", "approve", "reject"}},
		{Module: "donors", Actions: []string{"read", "update"}},
		{Module: "reports", Actions: []string{"read"}},
		{Module: "alerts", Actions: []string{"create", "read", "update"}},
	}
	if role == RoleHospitalAdmin {
		base = append(base, Permission{Module: "patients", Actions: []string{"read", "create", "update"}})
	}
	return base
}

func ValidatePermissions(permissions []Permission) error {
	for _, permission := range permissions {
		if !slices.Contains(permissionModules, permission.Module) {
			return apperr.Validation(fmt.Sprintf("Invalid permission module: %s", permission.Module))
		}
		for _, action := range permission.Actions {
			if !slices.Contains(permissionActions, action) {
				return apperr.Validation(fmt.Sprintf("Invalid permission action: %s", action))
			}
		}
	}
	return nil
}

// HasPermission reports whether account may perform action on module.
// Admins are always allowed.
func HasPermission(account Account, module, action string) bool {
	if account.Role == RoleAdmin {
		return true
	}
	if account.OrganizationInfo == nil {
		return false
	}
	for _, permission := range account.OrganizationInfo.Permissions {
		if permission.Module == module {
			return slices.Contains(permission.Actions, action)
		}
	}
	return false
}

// HasOrganizationType reports whether account belongs to an organization of
// type t. Admins are always allowed.
func HasOrganizationType(account Account, t OrganizationType) bool {
	if account.Role == RoleAdmin {
		return true
	}
	return account.OrganizationType() == t
}

// CanAccessOrganization reports whether account may read data scoped to the
// given organization.
func CanAccessOrganization(account Account, organizationID string) bool {
	if account.Role == RoleAdmin {
		return true
	}
	return organizationID != "" && account.OrganizationID() == organizationID
}

func isOrganizationAdmin(role Role) bool {
	return role == RoleHospitalAdmin || role == RoleBloodBankAdmin
}
