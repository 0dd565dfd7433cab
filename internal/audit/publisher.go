package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logbook accepts activation log entries from domain logic and hands them to
// the background Worker. Recording must never slow the provisioning hot path
// beyond a channel send.
type Logbook struct {
	inbox chan<- Entry
}

func NewLogbook(inbox chan<- Entry) *Logbook {
	return &Logbook{inbox: inbox}
}

// Record stamps and enqueues one entry. Blocks only when the worker has
// fallen a full buffer behind; ctx cancellation wins in that case.
func (l *Logbook) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Actor == "" {
		entry.Actor = ActorSystem
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.inbox <- entry:
		return nil
	}
}
