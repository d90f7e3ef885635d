package shared

// Billing permissions declared for RBAC.
const (
	PermBillingView     = "billing.view"
	PermBillingEdit     = "billing.edit"
	PermBillingApprove  = "billing.approve"
	PermBillingPayments = "billing.payments"
	PermBillingDelete   = "billing.delete"
	PermBillingAudit    = "billing.audit"
)

// BillingScopes lists all permissions related to the billing module.
func BillingScopes() []string {
	return []string{
		PermBillingView,
		PermBillingEdit,
		PermBillingApprove,
		PermBillingPayments,
		PermBillingDelete,
		PermBillingAudit,
	}
}
