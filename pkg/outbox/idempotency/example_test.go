package idempotency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

func ExampleManager_CheckAndMarkProcessed() {
	ctx := context.Background()
	manager, _ := NewManager(newFakeStore(), 0)
	eventID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

	for range 2 {
		already, _ := manager.CheckAndMarkProcessed(ctx, "order-notifications", eventID)
		if already {
			fmt.Println("already processed")
			continue
		}
		fmt.Println("processing event")
	}
	// Output:
	// processing event
	// already processed
}
