package enums

import "slices"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregatePayment     OutboxAggregateType = "payment"
	AggregateCertificate OutboxAggregateType = "certificate"
)

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains([]OutboxAggregateType{AggregateOrder, AggregatePayment, AggregateCertificate}, a)
}

// OutboxEventType names the lifecycle fact carried by an outbox row.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order_created"
	EventOrderCancelled      OutboxEventType = "order_cancelled"
	EventOrderPaymentStarted OutboxEventType = "order_payment_started"
	EventOrderPaymentRevert  OutboxEventType = "order_payment_reverted"
	EventOrderPaid           OutboxEventType = "order_paid"
	EventOrderFailed         OutboxEventType = "order_failed"
	EventOrderCompleted      OutboxEventType = "order_completed"
	EventPaymentRefunded     OutboxEventType = "payment_refunded"
	EventCertificateIssued   OutboxEventType = "certificate_issued"
)

// OutboxEventTypes lists every event type in emission order.
func OutboxEventTypes() []OutboxEventType {
	return []OutboxEventType{
		EventOrderCreated,
		EventOrderCancelled,
		EventOrderPaymentStarted,
		EventOrderPaymentRevert,
		EventOrderPaid,
		EventOrderFailed,
		EventOrderCompleted,
		EventPaymentRefunded,
		EventCertificateIssued,
	}
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(OutboxEventTypes(), e)
}
