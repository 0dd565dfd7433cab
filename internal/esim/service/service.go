// Package service exposes eSIM queries and the operator-driven lifecycle
// actions. Actions call the vendor first and transition local state only
// after the vendor accepted; a vendor failure leaves the entity untouched.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/vendorapi"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// Activation log actions for operator-driven transitions.
const (
	ActionAdminCancel    = "admin.cancel"
	ActionAdminSuspend   = "admin.suspend"
	ActionAdminUnsuspend = "admin.unsuspend"
	ActionAdminRevoke    = "admin.revoke"
)

type Service struct {
	store    store.Store
	vendor   vendor.Client
	auditLog audit.Store
	logbook  *audit.Logbook
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogbook(l *audit.Logbook) Option { return func(s *Service) { s.logbook = l } }
func WithAuditLog(st audit.Store) Option  { return func(s *Service) { s.auditLog = st } }
func WithLogger(l *slog.Logger) Option    { return func(s *Service) { s.logger = l } }

func New(st store.Store, vc vendor.Client, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if vc == nil {
		return nil, fmt.Errorf("vendor client is required")
	}
	s := &Service{
		store:  st,
		vendor: vc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Get(ctx context.Context, esimID id.EsimID) (*models.Esim, error) {
	e, err := s.store.GetByID(ctx, esimID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "esim not found")
	}
	return e, nil
}

// ByOrder lists the entities provisioned for one order, in creation order.
func (s *Service) ByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Esim, error) {
	return s.store.List(ctx, store.Filter{OrderID: orderID})
}

// History returns the activation log for one entity, oldest first.
func (s *Service) History(ctx context.Context, esimID id.EsimID) ([]audit.Entry, error) {
	if s.auditLog == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "activation log store not configured")
	}
	if _, err := s.Get(ctx, esimID); err != nil {
		return nil, err
	}
	return s.auditLog.ListByEsim(ctx, esimID)
}

// Usage fetches the live usage report from the vendor and folds it into the
// entity's metadata so the record reflects the last known figures.
func (s *Service) Usage(ctx context.Context, esimID id.EsimID) (*vendor.UsageReport, error) {
	e, err := s.Get(ctx, esimID)
	if err != nil {
		return nil, err
	}
	if e.ICCID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "esim has no iccid bound yet")
	}
	report, err := s.vendor.Usage(ctx, e.ICCID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Update(ctx, esimID, func(e *models.Esim) error {
		e.SetMeta(models.MetaLastUsageBytes, strconv.FormatInt(report.UsedBytes, 10))
		e.SetMeta(models.MetaUsageRemaining, strconv.FormatInt(report.RemainingBytes, 10))
		return nil
	}); err != nil {
		s.logger.Error("usage metadata update failed", "esim_id", esimID, "error", err)
	}
	return report, nil
}

func (s *Service) Cancel(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error) {
	return s.transition(ctx, esimID, reason, ActionAdminCancel, models.EventCancelled,
		func(ctx context.Context, iccid id.ICCID) error {
			return s.vendor.CancelProfile(ctx, iccid, reason)
		})
}

func (s *Service) Suspend(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error) {
	return s.transition(ctx, esimID, reason, ActionAdminSuspend, models.EventSuspended,
		func(ctx context.Context, iccid id.ICCID) error {
			return s.vendor.SuspendProfile(ctx, iccid, reason)
		})
}

func (s *Service) Unsuspend(ctx context.Context, esimID id.EsimID) (*models.Esim, error) {
	return s.transition(ctx, esimID, "", ActionAdminUnsuspend, models.EventUnsuspended,
		s.vendor.UnsuspendProfile)
}

func (s *Service) Revoke(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error) {
	return s.transition(ctx, esimID, reason, ActionAdminRevoke, models.EventRevoked,
		func(ctx context.Context, iccid id.ICCID) error {
			return s.vendor.RevokeProfile(ctx, iccid, reason)
		})
}

// transition runs one operator action: precondition check, vendor call,
// local state change, activation log entry. The precondition is evaluated on
// a copy first so a doomed action never reaches the vendor.
func (s *Service) transition(
	ctx context.Context,
	esimID id.EsimID,
	reason, action string,
	event models.EventType,
	vendorCall func(context.Context, id.ICCID) error,
) (*models.Esim, error) {
	entity, err := s.Get(ctx, esimID)
	if err != nil {
		return nil, err
	}
	if err := checkPrecondition(entity, event); err != nil {
		return nil, err
	}

	if err := vendorCall(ctx, entity.ICCID); err != nil {
		return nil, err
	}

	var outcome models.Outcome
	ev := &models.LifecycleEvent{Reason: reason}
	updated, err := s.store.Update(ctx, esimID, func(e *models.Esim) error {
		outcome = e.Apply(event, ev, time.Now())
		if outcome == models.OutcomeRejected {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"cannot apply %s in state %s", event, e.State)
		}
		return nil
	})
	if err != nil {
		// Vendor accepted but the local transition lost a race; the next
		// vendor webhook converges the states.
		s.logger.Error("local transition failed after vendor accepted",
			"esim_id", esimID, "action", action, "error", err)
		return nil, err
	}

	s.record(ctx, audit.Entry{
		EsimID: esimID,
		Actor:  audit.ActorAdmin,
		Action: action,
		Metadata: map[string]string{
			"reason": reason,
			"state":  string(updated.State),
		},
	})
	s.logger.Info("operator transition applied",
		"esim_id", esimID, "action", action, "state", updated.State)
	return updated, nil
}

// checkPrecondition fails doomed actions before the vendor is involved.
func checkPrecondition(e *models.Esim, event models.EventType) error {
	if e.ICCID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidState, "esim has no iccid bound yet")
	}
	if e.State.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "esim is already %s", e.State)
	}
	switch event {
	case models.EventSuspended:
		if e.State != models.StateActive {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot suspend esim in state %s", e.State)
		}
	case models.EventUnsuspended:
		if e.State != models.StateSuspended {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot unsuspend esim in state %s", e.State)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.logbook == nil {
		return
	}
	if err := s.logbook.Record(ctx, entry); err != nil {
		s.logger.Error("activation log record failed", "action", entry.Action, "error", err)
	}
}
