// Package provision orchestrates the path from a completed storefront order
// to a provisioned eSIM profile: idempotency guard, balance gate, vendor
// order placement, profile polling, ICCID binding and customer notification.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/ledger"
	"simgate/internal/notify"
	"simgate/internal/platform/config"
	"simgate/internal/platform/metrics"
	"simgate/internal/vendorapi"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
	"simgate/pkg/platform/sentinel"
)

// MetaOrderStatus is the ledger metadata key other storefront tooling reads
// to learn whether an order's eSIMs are ready.
const MetaOrderStatus = "esim_status"

// Request provisions one order line.
type Request struct {
	OrderID  id.OrderID
	SKU      id.SKU
	UserID   id.UserID
	Quantity int
	// Phone, when present, is stored on the entity so usage alerts can be
	// delivered over SMS as well.
	Phone string
}

// Locker serializes provisioning of the same order line across processes.
// Acquire returns ok=false when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Service is the provisioning orchestrator.
type Service struct {
	store    store.Store
	vendor   vendor.Client
	ledger   ledger.Client
	cfg      config.Provisioning
	logbook  *audit.Logbook
	locker   Locker
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error

	group singleflight.Group
}

type Option func(*Service)

func WithLogbook(l *audit.Logbook) Option   { return func(s *Service) { s.logbook = l } }
func WithLocker(l Locker) Option            { return func(s *Service) { s.locker = l } }
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }

// WithSleeper replaces the poll/grace wait. Tests use it to run the
// workflow without real delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

func New(st store.Store, vc vendor.Client, lc ledger.Client, cfg config.Provisioning, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if vc == nil {
		return nil, fmt.Errorf("vendor client is required")
	}
	if lc == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	s := &Service{
		store:  st,
		vendor: vc,
		ledger: lc,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("simgate/provision"),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProvisionOrder fetches the order from the ledger and provisions every
// provisionable line item. Non-provisionable lines (physical goods, top-ups)
// are skipped. A failing line never blocks the remaining lines; the entities
// created or found are returned alongside the joined line errors.
func (s *Service) ProvisionOrder(ctx context.Context, orderID id.OrderID) ([]*models.Esim, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var (
		out  []*models.Esim
		errs []error
	)
	for _, line := range order.LineItems {
		if !s.provisionable(line) {
			continue
		}
		sku, err := id.ParseSKU(line.SKU)
		if err != nil {
			s.logger.Warn("skipping line item with unusable sku",
				"order_id", orderID, "name", line.Name, "error", err)
			continue
		}
		entity, err := s.ProvisionLine(ctx, Request{
			OrderID:  orderID,
			SKU:      sku,
			UserID:   id.UserID(fmt.Sprintf("%d", order.CustomerID)),
			Quantity: line.Quantity,
			Phone:    order.Billing.Phone,
		})
		if err != nil {
			s.logger.Error("line provisioning failed",
				"order_id", orderID, "sku", sku, "error", err)
			errs = append(errs, fmt.Errorf("sku %s: %w", sku, err))
			continue
		}
		out = append(out, entity)
	}
	return out, errors.Join(errs...)
}

// ProvisionOrderLine provisions a single line of an order, selected by SKU.
// Used by the manual operator trigger; the line must exist on the order. A
// quantity of zero falls back to the line's own quantity.
func (s *Service) ProvisionOrderLine(ctx context.Context, orderID id.OrderID, sku id.SKU, quantity int) (*models.Esim, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, line := range order.LineItems {
		if line.SKU != sku.String() {
			continue
		}
		if quantity <= 0 {
			quantity = line.Quantity
		}
		return s.ProvisionLine(ctx, Request{
			OrderID:  orderID,
			SKU:      sku,
			UserID:   id.UserID(fmt.Sprintf("%d", order.CustomerID)),
			Quantity: quantity,
			Phone:    order.Billing.Phone,
		})
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "order %d has no line with sku %s", orderID, sku)
}

func (s *Service) provisionable(line ledger.LineItem) bool {
	if line.SKU == "" {
		return false
	}
	signal := strings.ToLower(s.cfg.ProductSignal)
	return strings.Contains(strings.ToLower(line.Name), signal) ||
		strings.Contains(strings.ToLower(line.SKU), signal)
}

// ProvisionLine runs the workflow for one order line. Concurrent calls for
// the same (order, SKU) collapse into one run in-process; the optional
// distributed lock extends that across replicas. Re-running a completed line
// returns the existing entity without touching the vendor.
func (s *Service) ProvisionLine(ctx context.Context, req Request) (*models.Esim, error) {
	key := lineKey(req.OrderID, req.SKU)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.run(ctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Esim), nil
}

func (s *Service) run(ctx context.Context, key string, req Request) (*models.Esim, error) {
	ctx, span := s.tracer.Start(ctx, "provision.run", trace.WithAttributes(
		attribute.Int64("order_id", int64(req.OrderID)),
		attribute.String("sku", req.SKU.String()),
	))
	defer span.End()

	// Idempotency guard before anything irreversible: a duplicate trigger
	// for an already-provisioned line must place zero vendor orders.
	if existing, err := s.store.GetByOrderLine(ctx, req.OrderID, req.SKU); err == nil {
		s.observeRun("duplicate")
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "provision:"+key, 2*time.Minute)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire provisioning lock")
		}
		if !ok {
			s.observeRun("contended")
			return nil, dErrors.New(dErrors.CodeConflict, "provisioning already in progress for this order line")
		}
		defer release()

		// Another replica may have finished between our check and the lock.
		if existing, err := s.store.GetByOrderLine(ctx, req.OrderID, req.SKU); err == nil {
			s.observeRun("duplicate")
			return existing, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
	}

	if err := s.gateBalance(ctx, req); err != nil {
		s.observeRun("insufficient_funds")
		s.failNote(ctx, req, err)
		return nil, err
	}

	placed, err := s.vendor.PlaceOrder(ctx, vendor.OrderRequest{
		SKU:            req.SKU,
		Quantity:       max(req.Quantity, 1),
		TransactionRef: key,
	})
	if err != nil {
		s.observeRun("order_failed")
		s.failNote(ctx, req, err)
		return nil, err
	}

	entity, err := s.persistPending(ctx, req, placed.OrderRef)
	if err != nil {
		s.failNote(ctx, req, err)
		return nil, err
	}
	s.record(ctx, audit.Entry{
		EsimID: entity.ID,
		Action: audit.ActionProvisionStarted,
		Metadata: map[string]string{
			"order_id":         req.OrderID.String(),
			"sku":              req.SKU.String(),
			"vendor_order_ref": placed.OrderRef.String(),
		},
	})

	profile, attempts, err := s.awaitProfile(ctx, placed.OrderRef)
	if err != nil {
		s.observeRun("timeout")
		s.record(ctx, audit.Entry{
			EsimID:   entity.ID,
			Action:   audit.ActionProvisionFailed,
			Metadata: map[string]string{"reason": "poll timeout", "attempts": fmt.Sprintf("%d", attempts)},
		})
		s.failNote(ctx, req, err)
		return nil, err
	}

	entity, err = s.bindProfile(ctx, entity.ID, profile)
	if err != nil {
		s.observeRun("bind_failed")
		s.failNote(ctx, req, err)
		return nil, err
	}

	s.announce(ctx, req.OrderID, entity)
	s.record(ctx, audit.Entry{
		EsimID:   entity.ID,
		Action:   audit.ActionProvisionSucceeded,
		Metadata: map[string]string{"iccid": entity.ICCID.String(), "polls": fmt.Sprintf("%d", attempts)},
	})
	s.observeRun("success")
	if s.metrics != nil {
		s.metrics.ObservePollAttempts(attempts)
	}
	s.logger.Info("eSIM provisioned",
		"order_id", req.OrderID, "sku", req.SKU, "esim_id", entity.ID, "iccid", entity.ICCID, "polls", attempts)
	return entity, nil
}

// gateBalance fails fast before any vendor order is placed when the account
// balance is below the configured floor.
func (s *Service) gateBalance(ctx context.Context, req Request) error {
	balance, err := s.vendor.Balance(ctx)
	if err != nil {
		return err
	}
	if balance >= s.cfg.MinBalance {
		return nil
	}
	s.logger.Error("vendor balance below provisioning floor",
		"balance", balance, "floor", s.cfg.MinBalance, "order_id", req.OrderID)
	if s.notifier != nil {
		_ = s.notifier.Notify(ctx, notify.Notification{
			Audience: notify.AudienceOperator,
			Kind:     "balance.low",
			Message:  fmt.Sprintf("balance %.2f is below floor %.2f; order %d not placed", balance, s.cfg.MinBalance, req.OrderID),
			Data:     map[string]string{"balance": fmt.Sprintf("%.2f", balance)},
		})
	}
	return dErrors.Newf(dErrors.CodeInsufficientFunds,
		"vendor balance %.2f below required %.2f", balance, s.cfg.MinBalance)
}

// persistPending stores the entity immediately after order placement, before
// the first poll, so a webhook racing the poll loop can already resolve the
// entity by vendor order reference.
func (s *Service) persistPending(ctx context.Context, req Request, ref id.VendorOrderRef) (*models.Esim, error) {
	entity := &models.Esim{
		ID:             id.NewEsimID(),
		OrderID:        req.OrderID,
		SKU:            req.SKU,
		UserID:         req.UserID,
		VendorOrderRef: ref,
		State:          models.StatePendingActivation,
		CreatedAt:      time.Now(),
	}
	if req.Phone != "" {
		entity.SetMeta(models.MetaPhoneNumber, req.Phone)
	}
	if err := s.store.Create(ctx, entity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a cross-replica race after order placement; the winner's
			// entity is the one that counts.
			s.logger.Warn("order line provisioned concurrently elsewhere",
				"order_id", req.OrderID, "sku", req.SKU, "vendor_order_ref", ref)
			return s.store.GetByOrderLine(ctx, req.OrderID, req.SKU)
		}
		return nil, err
	}
	return entity, nil
}

// awaitProfile polls the vendor until the order's profile carries an ICCID.
// Attempt i (1-indexed) waits cfg.PollBaseDelay << i before querying;
// transport errors count as misses. Returns the attempts used.
func (s *Service) awaitProfile(ctx context.Context, ref id.VendorOrderRef) (*vendor.Profile, int, error) {
	if err := s.sleep(ctx, s.cfg.GraceDelay); err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeTimeout, "provisioning aborted")
	}

	for i := 1; i <= s.cfg.PollMaxAttempts; i++ {
		if err := s.sleep(ctx, s.cfg.PollBaseDelay<<uint(i)); err != nil {
			return nil, i - 1, dErrors.Wrap(err, dErrors.CodeTimeout, "provisioning aborted")
		}
		profile, err := s.vendor.ProfileByOrderRef(ctx, ref)
		switch {
		case err != nil:
			s.logger.Warn("profile poll failed", "vendor_order_ref", ref, "attempt", i, "error", err)
		case profile.Ready():
			return profile, i, nil
		}
	}
	return nil, s.cfg.PollMaxAttempts, dErrors.Newf(dErrors.CodeProvisioningTimeout,
		"profile not ready after %d polls", s.cfg.PollMaxAttempts)
}

func (s *Service) bindProfile(ctx context.Context, esimID id.EsimID, profile *vendor.Profile) (*models.Esim, error) {
	return s.store.Update(ctx, esimID, func(e *models.Esim) error {
		if !e.BindICCID(profile.ICCID) {
			return dErrors.Newf(dErrors.CodeConflict,
				"entity already bound to iccid %s", e.ICCID)
		}
		e.ActivationCode = profile.ActivationCode
		e.QRPayload = profile.QRPayload
		e.VendorProfile = profile.Raw
		return nil
	})
}

// failNote appends an internal note describing the failure to the order, so
// the error is visible where operators look first. The original error always
// propagates; a note failure is only logged.
func (s *Service) failNote(ctx context.Context, req Request, cause error) {
	note := fmt.Sprintf("eSIM provisioning failed for %s: %v", req.SKU, cause)
	if err := s.ledger.AppendNote(ctx, req.OrderID, note, false); err != nil {
		s.logger.Error("failure note append failed", "order_id", req.OrderID, "error", err)
	}
}

// announce writes the customer-visible order note and the ledger metadata
// flag. Neither failure unwinds a successful provision; both are logged and
// left for manual replay.
func (s *Service) announce(ctx context.Context, orderID id.OrderID, entity *models.Esim) {
	note := fmt.Sprintf("Your eSIM is ready. ICCID: %s. Activation code: %s",
		entity.ICCID, entity.ActivationCode)
	if err := s.ledger.AppendNote(ctx, orderID, note, true); err != nil {
		s.logger.Error("order note append failed", "order_id", orderID, "error", err)
	}
	if err := s.ledger.SetMetadata(ctx, orderID, MetaOrderStatus, "provisioned"); err != nil {
		s.logger.Error("order metadata update failed", "order_id", orderID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.logbook == nil {
		return
	}
	if err := s.logbook.Record(ctx, entry); err != nil {
		s.logger.Error("activation log record failed", "action", entry.Action, "error", err)
	}
}

func (s *Service) observeRun(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveProvisionRun(outcome)
	}
}

func lineKey(orderID id.OrderID, sku id.SKU) string {
	return fmt.Sprintf("%d|%s", orderID, sku)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
