package enums

import "slices"

// NotificationKind names a customer notice sent for an order milestone.
type NotificationKind string

const (
	NotificationOrderConfirmation   NotificationKind = "order_confirmation"
	NotificationPaymentConfirmation NotificationKind = "payment_confirmation"
	NotificationCertificateReady    NotificationKind = "certificate_ready"
)

func (n NotificationKind) IsValid() bool {
	return slices.Contains([]NotificationKind{
		NotificationOrderConfirmation,
		NotificationPaymentConfirmation,
		NotificationCertificateReady,
	}, n)
}
