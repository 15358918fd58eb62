// Package broker carries change notifications from the ingress to the
// worker that runs the per-contract billing pass. Notifications may arrive
// duplicated or out of order; the orchestrator is idempotent, so redelivery
// is always safe.
package broker

import (
	"context"
	"time"
)

// ChangeNotification signals that a contract (or something attached to it)
// changed in the store and its billing pass should run.
type ChangeNotification struct {
	ContractID string    `json:"contractId"`
	ObjectType string    `json:"objectType"` // what changed: contract, line_item, fulfillment
	OccurredAt time.Time `json:"occurredAt"`
	Attempt    int       `json:"attempt"`
}

// Producer publishes change notifications.
type Producer interface {
	Close()
	SendChangeNotification(n *ChangeNotification) error
}

// Consumer receives change notifications. A notification is acknowledged
// only after the handler has taken it; a malformed payload is dropped.
type Consumer interface {
	Close()
	ReceiveChangeNotifications(ctx context.Context) (<-chan *ChangeNotification, error)
}
