package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/ledger"
	ledgermocks "simgate/internal/ledger/mocks"
	"simgate/internal/notify"
	"simgate/internal/platform/config"
	"simgate/internal/vendorapi"
	vendormocks "simgate/internal/vendorapi/mocks"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

type fixture struct {
	service  *Service
	store    *store.MemoryStore
	vendor   *vendormocks.MockClient
	ledger   *ledgermocks.MockClient
	notifier *notify.MemoryNotifier
	logbook  chan audit.Entry
	sleeps   *sleepRecorder
}

type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.durations = append(r.durations, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.durations...)
}

func testConfig() config.Provisioning {
	return config.Provisioning{
		MinBalance:      10,
		GraceDelay:      5 * time.Second,
		PollBaseDelay:   3 * time.Second,
		PollMaxAttempts: 10,
		ProductSignal:   "esim",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		store:    store.NewMemory(),
		vendor:   vendormocks.NewMockClient(ctrl),
		ledger:   ledgermocks.NewMockClient(ctrl),
		notifier: notify.NewMemory(),
		logbook:  make(chan audit.Entry, 32),
		sleeps:   &sleepRecorder{},
	}

	svc, err := New(f.store, f.vendor, f.ledger, testConfig(),
		WithLogbook(audit.NewLogbook(f.logbook)),
		WithNotifier(f.notifier),
		WithSleeper(f.sleeps.sleep),
	)
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

func testRequest() Request {
	return Request{
		OrderID:  id.OrderID(123),
		SKU:      id.SKU("esim-eu-5gb"),
		UserID:   id.UserID("7"),
		Quantity: 1,
		Phone:    "+4512345678",
	}
}

func notReady() *vendor.Profile { return &vendor.Profile{} }

func readyProfile() *vendor.Profile {
	return &vendor.Profile{
		ICCID:          id.ICCID("8944500410000000013"),
		ActivationCode: "LPA:1$smdp.example.com$CODE",
		QRPayload:      "qr-data",
	}
}

func TestInsufficientBalancePlacesNoOrder(t *testing.T) {
	f := newFixture(t)
	// Balance below the floor of 10; PlaceOrder has no expectation set, so
	// any call to it fails the test.
	f.vendor.EXPECT().Balance(gomock.Any()).Return(5.0, nil)
	// A non-customer-visible failure note lands on the order.
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), false).
		DoAndReturn(func(_ context.Context, _ id.OrderID, note string, _ bool) error {
			require.Contains(t, note, "provisioning failed")
			return nil
		})

	_, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientFunds))

	// No entity persisted.
	_, err = f.store.GetByOrderLine(context.Background(), id.OrderID(123), id.SKU("esim-eu-5gb"))
	require.Error(t, err)

	// Operator alerted.
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, notify.AudienceOperator, sent[0].Audience)
	require.Equal(t, "balance.low", sent[0].Kind)
}

func TestProvisionSucceedsAtThirdPoll(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil)
	gomock.InOrder(
		f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(notReady(), nil),
		f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(notReady(), nil),
		f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil),
	)
	// Exactly one customer note and one metadata write.
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), true).Return(nil).Times(1)
	f.ledger.EXPECT().SetMetadata(gomock.Any(), id.OrderID(123), MetaOrderStatus, "provisioned").Return(nil).Times(1)

	entity, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, id.ICCID("8944500410000000013"), entity.ICCID)
	require.Equal(t, models.StatePendingActivation, entity.State)
	require.Equal(t, "LPA:1$smdp.example.com$CODE", entity.ActivationCode)
	require.Equal(t, "+4512345678", entity.Metadata[models.MetaPhoneNumber])

	// Grace delay, then base*2^i before each attempt: 6s, 12s, 24s.
	require.Equal(t, []time.Duration{
		5 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
	}, f.sleeps.all())

	entries := f.entries()
	require.Len(t, entries, 2)
	require.Equal(t, audit.ActionProvisionStarted, entries[0].Action)
	require.Equal(t, audit.ActionProvisionSucceeded, entries[1].Action)
	require.Equal(t, "3", entries[1].Metadata["polls"])
}

func TestDuplicateLineReturnsExistingWithoutVendorCalls(t *testing.T) {
	f := newFixture(t)
	existing := &models.Esim{
		ID:      id.NewEsimID(),
		OrderID: id.OrderID(123),
		SKU:     id.SKU("esim-eu-5gb"),
		State:   models.StateActive,
		ICCID:   id.ICCID("8944500410000000013"),
	}
	require.NoError(t, f.store.Create(context.Background(), existing))

	// No vendor or ledger expectations: any outbound call fails the test.
	entity, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, existing.ID, entity.ID)
	require.Empty(t, f.entries())
}

func TestPollTimeoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil)
	f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(notReady(), nil).Times(10)
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), false).Return(nil)

	_, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeProvisioningTimeout))

	// The entity stays pending so a late webhook can still activate it.
	entity, err := f.store.GetByOrderLine(context.Background(), id.OrderID(123), id.SKU("esim-eu-5gb"))
	require.NoError(t, err)
	require.Equal(t, models.StatePendingActivation, entity.State)
	require.Equal(t, ref, entity.VendorOrderRef)
	require.True(t, entity.ICCID.IsNil())

	entries := f.entries()
	require.Len(t, entries, 2)
	require.Equal(t, audit.ActionProvisionFailed, entries[1].Action)
}

func TestTransportErrorsRetriedWithinPollLoop(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil)
	gomock.InOrder(
		f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).
			Return(nil, dErrors.New(dErrors.CodeVendorTransport, "connection reset")),
		f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil),
	)
	f.ledger.EXPECT().AppendNote(gomock.Any(), gomock.Any(), gomock.Any(), true).Return(nil)
	f.ledger.EXPECT().SetMetadata(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	entity, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.NoError(t, err)
	require.False(t, entity.ICCID.IsNil())
}

func TestVendorOrderRejectionPropagates(t *testing.T) {
	f := newFixture(t)

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeVendorOrderRejected, "unknown package"))
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), false).Return(nil)

	_, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeVendorOrderRejected))

	_, err = f.store.GetByOrderLine(context.Background(), id.OrderID(123), id.SKU("esim-eu-5gb"))
	require.Error(t, err)
}

func TestLedgerNoteFailureDoesNotUnwindProvision(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil)
	f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil)
	f.ledger.EXPECT().AppendNote(gomock.Any(), gomock.Any(), gomock.Any(), true).
		Return(dErrors.New(dErrors.CodeInternal, "ledger down"))
	f.ledger.EXPECT().SetMetadata(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	entity, err := f.service.ProvisionLine(context.Background(), testRequest())
	require.NoError(t, err)
	require.False(t, entity.ICCID.IsNil())
}

func TestProvisionOrderSkipsNonProvisionableLines(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.ledger.EXPECT().GetOrder(gomock.Any(), id.OrderID(123)).Return(&ledger.Order{
		ID:         id.OrderID(123),
		Status:     "completed",
		CustomerID: 7,
		Billing:    ledger.Billing{Email: "traveler@example.com"},
		LineItems: []ledger.LineItem{
			{Name: "Travel adapter", SKU: "adapter-eu", Quantity: 1},
			{Name: "eSIM Europe 5GB", SKU: "esim-eu-5gb", Quantity: 1},
			{Name: "Gift wrap", SKU: "", Quantity: 1},
		},
	}, nil)

	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil).Times(1)
	f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil)
	f.ledger.EXPECT().AppendNote(gomock.Any(), gomock.Any(), gomock.Any(), true).Return(nil)
	f.ledger.EXPECT().SetMetadata(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	out, err := f.service.ProvisionOrder(context.Background(), id.OrderID(123))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, id.SKU("esim-eu-5gb"), out[0].SKU)
}

func TestProvisionOrderContinuesPastFailingLine(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	f.ledger.EXPECT().GetOrder(gomock.Any(), id.OrderID(123)).Return(&ledger.Order{
		ID:         id.OrderID(123),
		Status:     "completed",
		CustomerID: 7,
		LineItems: []ledger.LineItem{
			{Name: "eSIM USA 10GB", SKU: "esim-us-10gb", Quantity: 1},
			{Name: "eSIM Europe 5GB", SKU: "esim-eu-5gb", Quantity: 1},
		},
	}, nil)

	// First line is rejected by the vendor; the second must still provision.
	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil).Times(2)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req vendor.OrderRequest) (*vendor.OrderResponse, error) {
			if req.SKU == "esim-us-10gb" {
				return nil, dErrors.New(dErrors.CodeVendorOrderRejected, "unknown package")
			}
			return &vendor.OrderResponse{OrderRef: ref}, nil
		}).Times(2)
	f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil)
	// One failure note for the rejected line, one customer note for the
	// provisioned one.
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), false).Return(nil)
	f.ledger.EXPECT().AppendNote(gomock.Any(), id.OrderID(123), gomock.Any(), true).Return(nil)
	f.ledger.EXPECT().SetMetadata(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	out, err := f.service.ProvisionOrder(context.Background(), id.OrderID(123))
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeVendorOrderRejected))
	require.Len(t, out, 1)
	require.Equal(t, id.SKU("esim-eu-5gb"), out[0].SKU)
}

func TestProvisionOrderLineRequiresMatchingLine(t *testing.T) {
	f := newFixture(t)

	f.ledger.EXPECT().GetOrder(gomock.Any(), id.OrderID(123)).Return(&ledger.Order{
		ID:         id.OrderID(123),
		Status:     "completed",
		CustomerID: 7,
		LineItems: []ledger.LineItem{
			{Name: "eSIM Europe 5GB", SKU: "esim-eu-5gb", Quantity: 1},
		},
	}, nil)

	// The requested sku is not on the order; the vendor must never be called.
	_, err := f.service.ProvisionOrderLine(context.Background(), id.OrderID(123), id.SKU("esim-us-10gb"), 1)
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestConcurrentProvisionCollapsesToOneRun(t *testing.T) {
	f := newFixture(t)
	ref := id.VendorOrderRef("VO-1001")

	// Expectations allow exactly one workflow run.
	f.vendor.EXPECT().Balance(gomock.Any()).Return(50.0, nil).Times(1)
	f.vendor.EXPECT().PlaceOrder(gomock.Any(), gomock.Any()).Return(&vendor.OrderResponse{OrderRef: ref}, nil).Times(1)
	f.vendor.EXPECT().ProfileByOrderRef(gomock.Any(), ref).Return(readyProfile(), nil).Times(1)
	f.ledger.EXPECT().AppendNote(gomock.Any(), gomock.Any(), gomock.Any(), true).Return(nil).Times(1)
	f.ledger.EXPECT().SetMetadata(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	// Hold the first run inside the grace delay until all goroutines have
	// joined the singleflight group.
	started := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	f.service.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() {
			close(started)
			<-proceed
		})
		return ctx.Err()
	}

	const workers = 5
	results := make(chan *models.Esim, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entity, err := f.service.ProvisionLine(context.Background(), testRequest())
			results <- entity
			errs <- err
		}()
	}

	<-started
	close(proceed)
	wg.Wait()
	close(results)
	close(errs)

	var first *models.Esim
	for entity := range results {
		require.NotNil(t, entity)
		if first == nil {
			first = entity
		}
		require.Equal(t, first.ID, entity.ID)
	}
	for err := range errs {
		require.NoError(t, err)
	}
}
