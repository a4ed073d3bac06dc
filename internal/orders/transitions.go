package orders

import (
	"github.com/safmarket/saf-backend/pkg/enums"
)

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

// lifecycle is the complete order state graph. Each edge names the outbox
// event emitted when it is taken.
var lifecycle = map[edge]enums.OutboxEventType{
	{enums.OrderStatusPending, enums.OrderStatusProcessing}: enums.EventOrderPaymentStarted,
	{enums.OrderStatusPending, enums.OrderStatusCancelled}:  enums.EventOrderCancelled,
	{enums.OrderStatusProcessing, enums.OrderStatusPaid}:    enums.EventOrderPaid,
	{enums.OrderStatusProcessing, enums.OrderStatusFailed}:  enums.EventOrderFailed,
	{enums.OrderStatusProcessing, enums.OrderStatusPending}: enums.EventOrderPaymentRevert,
	{enums.OrderStatusPaid, enums.OrderStatusCompleted}:     enums.EventOrderCompleted,
}

func transitionEvent(from, to enums.OrderStatus) (enums.OutboxEventType, bool) {
	event, ok := lifecycle[edge{from, to}]
	return event, ok
}
