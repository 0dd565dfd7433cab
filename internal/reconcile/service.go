// Package reconcile applies vendor lifecycle webhooks to local eSIM state.
//
// The contract with the vendor is always-ack: every delivery is persisted to
// the webhook audit trail and answered with a receipt, whatever happens
// during processing. Unknown event types, unresolvable entities and rejected
// transitions are recorded and acknowledged, never bounced; the vendor's
// redelivery loop is not a recovery mechanism we rely on.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/notify"
	"simgate/internal/platform/metrics"
	"simgate/internal/platform/redis"
	"simgate/internal/vendorapi"
)

// dedupTTL bounds how long a delivered event id blocks replays. Beyond it
// the state machine's absorbing semantics make replays harmless anyway.
const dedupTTL = 24 * time.Hour

// Ack is the receipt returned for every webhook delivery.
type Ack struct {
	Received  bool      `json:"received"`
	Timestamp time.Time `json:"timestamp"`
}

// Deduper remembers processed event keys. Mark returns true the first time
// a key is seen within the TTL window.
type Deduper interface {
	Mark(ctx context.Context, key string, ttl time.Duration) (first bool, err error)
}

// Service reconciles webhook deliveries against the entity store.
type Service struct {
	store    store.Store
	webhooks audit.WebhookStore
	logbook  *audit.Logbook
	notifier notify.Notifier
	vendor   vendor.Client
	deduper  Deduper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogbook(l *audit.Logbook) Option   { return func(s *Service) { s.logbook = l } }
func WithNotifier(n notify.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithVendor(v vendor.Client) Option     { return func(s *Service) { s.vendor = v } }
func WithDeduper(d Deduper) Option          { return func(s *Service) { s.deduper = d } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(st store.Store, webhooks audit.WebhookStore, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if webhooks == nil {
		return nil, fmt.Errorf("webhook store is required")
	}
	s := &Service{
		store:    st,
		webhooks: webhooks,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reconcile processes one raw webhook delivery. It never returns an error;
// the ack is owed to the vendor regardless of the processing outcome.
func (s *Service) Reconcile(ctx context.Context, raw []byte) Ack {
	now := s.now()
	ack := Ack{Received: true, Timestamp: now}

	ev, parseErr := models.ParseLifecycleEvent(raw)
	s.persistDelivery(ctx, raw, ev, parseErr, now)
	if parseErr != nil {
		s.logger.Warn("webhook payload rejected", "error", parseErr)
		s.observe("malformed", "rejected")
		return ack
	}

	if key := ev.DedupKey(); key != "" && s.deduper != nil {
		first, err := s.deduper.Mark(ctx, "webhook:dedup:"+key, dedupTTL)
		if err != nil {
			// Dedup is an optimization; absorbing-state semantics keep the
			// replay safe, so process anyway.
			s.logger.Warn("webhook dedup check failed", "key", key, "error", err)
		} else if !first {
			s.logger.Info("webhook replay dropped", "key", key)
			s.observe(ev.RawType, "duplicate")
			return ack
		}
	}

	eventType, known := models.NormalizeEventType(ev.RawType)
	if !known {
		s.logger.Warn("unknown webhook event type", "event", ev.RawType, "event_id", ev.EventID)
		s.observe(ev.RawType, "unknown")
		return ack
	}

	if !eventType.EntityBound() {
		s.handleAccountEvent(ctx, eventType, ev)
		s.observe(string(eventType), "applied")
		return ack
	}

	entity, err := s.resolve(ctx, ev)
	if err != nil {
		s.logger.Warn("webhook resolves to no entity",
			"event", eventType, "iccid", ev.ICCID, "vendor_order_ref", ev.VendorOrderRef)
		s.observe(string(eventType), "unresolved")
		return ack
	}

	outcome := models.OutcomeNoop
	updated, err := s.store.Update(ctx, entity.ID, func(e *models.Esim) error {
		// An event can arrive before the poll loop has bound the ICCID;
		// the webhook's ICCID wins the race in that case.
		if !ev.ICCID.IsNil() && e.ICCID.IsNil() {
			e.BindICCID(ev.ICCID)
		}
		outcome = e.Apply(eventType, ev, now)
		return nil
	})
	if err != nil {
		s.logger.Error("entity update failed",
			"event", eventType, "esim_id", entity.ID, "error", err)
		s.observe(string(eventType), "error")
		return ack
	}

	s.recordOutcome(ctx, updated, eventType, ev, outcome)
	s.observe(string(eventType), string(outcome))

	if eventType == models.EventUsageThreshold && outcome == models.OutcomeApplied {
		s.alertUsage(ctx, updated, ev)
	}
	return ack
}

// persistDelivery appends the raw delivery to the webhook audit trail before
// any state is touched. Failures are logged and swallowed; losing the audit
// row must not lose the state transition.
func (s *Service) persistDelivery(ctx context.Context, raw []byte, ev *models.LifecycleEvent, parseErr error, now time.Time) {
	rec := audit.WebhookRecord{
		ID:         uuid.New(),
		Payload:    raw,
		ReceivedAt: now,
	}
	if ev != nil {
		rec.EventType = ev.RawType
		rec.EventID = ev.EventID
		rec.ICCID = ev.ICCID
		rec.VendorOrderRef = ev.VendorOrderRef
	}
	if parseErr != nil {
		rec.ProcessError = parseErr.Error()
	}
	if err := s.webhooks.Append(ctx, rec); err != nil {
		s.logger.Error("webhook audit append failed", "error", err)
	}
}

// resolve finds the entity an event targets: by ICCID first, falling back to
// the vendor order reference for events delivered before the ICCID was bound
// locally.
func (s *Service) resolve(ctx context.Context, ev *models.LifecycleEvent) (*models.Esim, error) {
	if !ev.ICCID.IsNil() {
		if entity, err := s.store.GetByICCID(ctx, ev.ICCID); err == nil {
			return entity, nil
		}
	}
	if !ev.VendorOrderRef.IsNil() {
		return s.store.GetByVendorOrderRef(ctx, ev.VendorOrderRef)
	}
	return nil, fmt.Errorf("no usable correlation key")
}

func (s *Service) handleAccountEvent(ctx context.Context, eventType models.EventType, ev *models.LifecycleEvent) {
	s.logger.Warn("vendor account alert", "event", eventType, "balance", ev.Balance)
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Notify(ctx, notify.Notification{
		Audience: notify.AudienceOperator,
		Kind:     string(eventType),
		Message:  "vendor account balance is low",
		Data:     map[string]string{"balance": ev.Balance},
	})
}

func (s *Service) recordOutcome(ctx context.Context, entity *models.Esim, eventType models.EventType, ev *models.LifecycleEvent, outcome models.Outcome) {
	if s.logbook == nil {
		return
	}
	action := audit.ActionEventApplied
	switch outcome {
	case models.OutcomeNoop:
		action = audit.ActionEventNoop
	case models.OutcomeRejected:
		action = audit.ActionEventRejected
	}
	err := s.logbook.Record(ctx, audit.Entry{
		EsimID: entity.ID,
		Actor:  audit.ActorVendor,
		Action: action,
		Metadata: map[string]string{
			"event":    string(eventType),
			"event_id": ev.EventID,
			"state":    string(entity.State),
		},
	})
	if err != nil {
		s.logger.Error("activation log record failed", "action", action, "error", err)
	}
}

// alertUsage fans a usage threshold crossing out to the user, and over SMS
// when the entity carries a phone number.
func (s *Service) alertUsage(ctx context.Context, entity *models.Esim, ev *models.LifecycleEvent) {
	msg := fmt.Sprintf("Your eSIM has used %s%% of its data allowance.", ev.Threshold)
	if ev.Remaining != "" {
		msg = fmt.Sprintf("%s Remaining: %s.", msg, ev.Remaining)
	}

	if s.notifier != nil {
		err := s.notifier.Notify(ctx, notify.Notification{
			Audience: notify.AudienceUser,
			Kind:     string(models.EventUsageThreshold),
			UserID:   entity.UserID,
			ICCID:    entity.ICCID,
			Message:  msg,
			Data: map[string]string{
				"threshold": ev.Threshold,
				"remaining": ev.Remaining,
			},
		})
		if err != nil {
			s.logger.Error("usage notification failed", "esim_id", entity.ID, "error", err)
		}
	}

	if s.vendor != nil && entity.Metadata[models.MetaPhoneNumber] != "" {
		if err := s.vendor.SendSMS(ctx, entity.ICCID, msg); err != nil {
			s.logger.Warn("usage sms failed", "esim_id", entity.ID, "error", err)
		}
	}
}

func (s *Service) observe(event, result string) {
	if s.metrics != nil {
		s.metrics.ObserveWebhookEvent(event, result)
	}
}

// RedisDeduper implements Deduper with a SET NX marker per event key.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, "1", ttl).Result()
}

// MemoryDeduper implements Deduper in-process, for tests and for running
// without Redis. TTLs are ignored.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Mark(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}
