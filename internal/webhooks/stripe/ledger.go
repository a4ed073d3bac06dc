package stripewebhook

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/redis"
)

// EventLedger remembers which Stripe event ids have been applied so that
// Stripe's at-least-once delivery results in a single state change.
type EventLedger struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewEventLedger(store redis.IdempotencyStore, ttl time.Duration, scope string) (*EventLedger, error) {
	switch {
	case store == nil:
		return nil, errors.New("event ledger: store is required")
	case ttl <= 0:
		return nil, errors.New("event ledger: ttl must be positive")
	case scope == "":
		return nil, errors.New("event ledger: scope is required")
	}
	return &EventLedger{store: store, ttl: ttl, scope: scope}, nil
}

// Once runs apply unless eventID was already claimed. It reports whether
// apply ran. When apply fails the claim is dropped so a redelivery can try
// again. Store failures surface as dependency errors.
func (l *EventLedger) Once(ctx context.Context, eventID string, apply func(context.Context) error) (bool, error) {
	if eventID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id missing")
	}
	key := l.store.IdempotencyKey(l.scope, eventID)
	claimed, err := l.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event")
	}
	if !claimed {
		return false, nil
	}
	if err := apply(ctx); err != nil {
		if delErr := l.store.Del(context.WithoutCancel(ctx), key); delErr != nil {
			err = multierr.Append(err, delErr)
		}
		return true, err
	}
	return true, nil
}
