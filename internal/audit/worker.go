package audit

import (
	"context"
	"log/slog"
)

// Worker consumes activation log entries from a channel and persists them.
// It keeps background processing testable without wiring queue
// implementations.
type Worker struct {
	store  Store
	inbox  <-chan Entry
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Entry, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run persists entries until ctx is cancelled. A failed append is logged and
// skipped; the audit trail is best-effort, the workflow that emitted the
// entry has already moved on.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case entry := <-w.inbox:
			w.append(ctx, entry)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case entry := <-w.inbox:
			w.append(context.Background(), entry)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, entry Entry) {
	if err := w.store.Append(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "activation log append failed",
			"error", err,
			"esim_id", entry.EsimID.String(),
			"action", entry.Action,
		)
	}
}
