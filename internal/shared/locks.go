package shared

import "fmt"

// MatterLockKey builds the key serialising invoice creation for a matter.
func MatterLockKey(matterID int64) string {
	return fmt.Sprintf("billing:matter:%d:lock", matterID)
}

// InvoiceLockKey builds the key serialising writes to a single invoice.
func InvoiceLockKey(invoiceID int64) string {
	return fmt.Sprintf("billing:invoice:%d:lock", invoiceID)
}
