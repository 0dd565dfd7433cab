package audit

import (
	"context"

	id "simgate/pkg/domain"
)

// Store persists activation log entries. Append-only; entries are never
// mutated or deleted.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByEsim(ctx context.Context, esimID id.EsimID) ([]Entry, error)
}

// WebhookStore persists raw webhook deliveries. Append-only.
type WebhookStore interface {
	Append(ctx context.Context, rec WebhookRecord) error
	ListRecent(ctx context.Context, limit int) ([]WebhookRecord, error)
}
