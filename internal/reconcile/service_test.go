package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/notify"
	vendormocks "simgate/internal/vendorapi/mocks"
	id "simgate/pkg/domain"
)

type fixture struct {
	service  *Service
	store    *store.MemoryStore
	webhooks *audit.MemoryWebhookStore
	notifier *notify.MemoryNotifier
	logbook  chan audit.Entry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		webhooks: audit.NewMemoryWebhookStore(),
		notifier: notify.NewMemory(),
		logbook:  make(chan audit.Entry, 32),
	}
	base := []Option{
		WithLogbook(audit.NewLogbook(f.logbook)),
		WithNotifier(f.notifier),
		WithDeduper(NewMemoryDeduper()),
	}
	svc, err := New(f.store, f.webhooks, append(base, opts...)...)
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) entries() []audit.Entry {
	var out []audit.Entry
	for {
		select {
		case e := <-f.logbook:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (f *fixture) seed(t *testing.T, state models.State, iccid id.ICCID) *models.Esim {
	t.Helper()
	entity := &models.Esim{
		ID:             id.NewEsimID(),
		OrderID:        id.OrderID(123),
		SKU:            id.SKU("esim-eu-5gb"),
		UserID:         id.UserID("7"),
		VendorOrderRef: id.VendorOrderRef("VO-1001"),
		ICCID:          iccid,
		State:          state,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, f.store.Create(context.Background(), entity))
	return entity
}

const testICCID = "8944500410000000013"

func payload(event, eventID string, extra string) []byte {
	body := fmt.Sprintf(`{"event":%q,"eventId":%q,"iccid":%q%s}`, event, eventID, testICCID, extra)
	return []byte(body)
}

func TestActivationAppliesAndStampsTime(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, id.ICCID(testICCID))

	ack := f.service.Reconcile(context.Background(),
		payload("profile.activated", "ev-1", `,"activationTime":"2026-08-30T10:00:00Z"`))
	require.True(t, ack.Received)

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)
	require.NotNil(t, got.ActivatedAt)
	require.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), got.ActivatedAt.UTC())

	entries := f.entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionEventApplied, entries[0].Action)
	require.Equal(t, audit.ActorVendor, entries[0].Actor)
}

func TestDuplicateDeliveryDroppedByDeduper(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, id.ICCID(testICCID))

	body := payload("profile.activated", "ev-1", "")
	f.service.Reconcile(context.Background(), body)
	f.service.Reconcile(context.Background(), body)

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)

	// One applied entry; the replay never reached the state machine.
	require.Len(t, f.entries(), 1)
	// Both deliveries are in the audit trail.
	recs, err := f.webhooks.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestReplayWithoutEventIDIsNoop(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateActive, id.ICCID(testICCID))

	// No eventId, so dedup cannot catch it; the state machine absorbs it.
	ack := f.service.Reconcile(context.Background(), payload("profile.activated", "", ""))
	require.True(t, ack.Received)

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)

	entries := f.entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionEventNoop, entries[0].Action)
}

func TestMalformedPayloadAckedAndAudited(t *testing.T) {
	f := newFixture(t)

	ack := f.service.Reconcile(context.Background(), []byte(`{"event":`))
	require.True(t, ack.Received)

	recs, err := f.webhooks.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotEmpty(t, recs[0].ProcessError)
	require.Empty(t, f.entries())
}

func TestUnknownEventTypeAcked(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.StateActive, id.ICCID(testICCID))

	ack := f.service.Reconcile(context.Background(), payload("profile.rebooted", "ev-9", ""))
	require.True(t, ack.Received)
	require.Empty(t, f.entries())
}

func TestUnresolvableEntityAcked(t *testing.T) {
	f := newFixture(t)

	ack := f.service.Reconcile(context.Background(), payload("profile.activated", "ev-1", ""))
	require.True(t, ack.Received)
	require.Empty(t, f.entries())

	recs, err := f.webhooks.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestVendorOrderRefFallbackBindsICCID(t *testing.T) {
	f := newFixture(t)
	// Entity persisted by the orchestrator before its poll loop finished:
	// vendor order ref known, ICCID not yet bound.
	entity := f.seed(t, models.StatePendingActivation, "")

	body := []byte(fmt.Sprintf(
		`{"event":"profile.activated","eventId":"ev-1","iccid":%q,"orderReference":"VO-1001"}`,
		testICCID))
	ack := f.service.Reconcile(context.Background(), body)
	require.True(t, ack.Received)

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)
	require.Equal(t, id.ICCID(testICCID), got.ICCID)

	// The entity is now resolvable by ICCID too.
	byICCID, err := f.store.GetByICCID(context.Background(), id.ICCID(testICCID))
	require.NoError(t, err)
	require.Equal(t, entity.ID, byICCID.ID)
}

func TestTerminalStateAbsorbsLaterEvents(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateCancelled, id.ICCID(testICCID))

	for i, event := range []string{"profile.activated", "profile.suspended", "profile.unsuspended"} {
		ack := f.service.Reconcile(context.Background(), payload(event, fmt.Sprintf("ev-%d", i), ""))
		require.True(t, ack.Received)
	}

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCancelled, got.State)

	for _, e := range f.entries() {
		require.Equal(t, audit.ActionEventNoop, e.Action)
	}
}

func TestUnsuspendWhilePendingRejected(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, id.ICCID(testICCID))

	ack := f.service.Reconcile(context.Background(), payload("profile.unsuspended", "ev-1", ""))
	require.True(t, ack.Received)

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePendingActivation, got.State)

	entries := f.entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionEventRejected, entries[0].Action)
}

func TestUsageThresholdNotifiesUserAndSendsSMS(t *testing.T) {
	ctrl := gomock.NewController(t)
	vendorClient := vendormocks.NewMockClient(ctrl)
	f := newFixture(t, WithVendor(vendorClient))

	entity := f.seed(t, models.StateActive, id.ICCID(testICCID))
	_, err := f.store.Update(context.Background(), entity.ID, func(e *models.Esim) error {
		e.SetMeta(models.MetaPhoneNumber, "+4512345678")
		return nil
	})
	require.NoError(t, err)

	vendorClient.EXPECT().SendSMS(gomock.Any(), id.ICCID(testICCID), gomock.Any()).Return(nil)

	ack := f.service.Reconcile(context.Background(),
		payload("usage.threshold", "ev-1", `,"threshold":80,"remaining":"1024000000"`))
	require.True(t, ack.Received)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, notify.AudienceUser, sent[0].Audience)
	require.Equal(t, id.UserID("7"), sent[0].UserID)
	require.Equal(t, "80", sent[0].Data["threshold"])

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, "80", got.Metadata[models.MetaUsageThreshold])
	require.Equal(t, "1024000000", got.Metadata[models.MetaUsageRemaining])
}

func TestBalanceLowAlertsOperator(t *testing.T) {
	f := newFixture(t)

	ack := f.service.Reconcile(context.Background(),
		[]byte(`{"event":"balance.low","eventId":"ev-1","balance":"3.50"}`))
	require.True(t, ack.Received)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, notify.AudienceOperator, sent[0].Audience)
	require.Equal(t, "balance.low", sent[0].Kind)
	require.Equal(t, "3.50", sent[0].Data["balance"])
}
