package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"simgate/internal/audit"
	"simgate/internal/esim/models"
	"simgate/internal/esim/store"
	"simgate/internal/vendorapi"
	vendormocks "simgate/internal/vendorapi/mocks"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

const testICCID = "8944500410000000013"

type fixture struct {
	service *Service
	store   *store.MemoryStore
	vendor  *vendormocks.MockClient
	logbook chan audit.Entry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		store:   store.NewMemory(),
		vendor:  vendormocks.NewMockClient(ctrl),
		logbook: make(chan audit.Entry, 16),
	}
	svc, err := New(f.store, f.vendor,
		WithLogbook(audit.NewLogbook(f.logbook)),
		WithAuditLog(audit.NewMemoryStore()),
	)
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) seed(t *testing.T, state models.State, iccid id.ICCID) *models.Esim {
	t.Helper()
	entity := &models.Esim{
		ID:        id.NewEsimID(),
		OrderID:   id.OrderID(123),
		SKU:       id.SKU("esim-eu-5gb"),
		UserID:    id.UserID("7"),
		ICCID:     iccid,
		State:     state,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.Create(context.Background(), entity))
	return entity
}

func TestSuspendActiveEsim(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateActive, id.ICCID(testICCID))
	f.vendor.EXPECT().SuspendProfile(gomock.Any(), id.ICCID(testICCID), "fraud review").Return(nil)

	updated, err := f.service.Suspend(context.Background(), entity.ID, "fraud review")
	require.NoError(t, err)
	require.Equal(t, models.StateSuspended, updated.State)
	require.Equal(t, "fraud review", updated.Metadata[models.MetaSuspensionReason])

	entry := <-f.logbook
	require.Equal(t, ActionAdminSuspend, entry.Action)
	require.Equal(t, audit.ActorAdmin, entry.Actor)
}

func TestSuspendPendingEsimRejectedBeforeVendor(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, id.ICCID(testICCID))
	// No vendor expectation: any call fails the test.

	_, err := f.service.Suspend(context.Background(), entity.ID, "fraud review")
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestUnsuspendRestoresActive(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateSuspended, id.ICCID(testICCID))
	f.vendor.EXPECT().UnsuspendProfile(gomock.Any(), id.ICCID(testICCID)).Return(nil)

	updated, err := f.service.Unsuspend(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, updated.State)
	require.NotContains(t, updated.Metadata, models.MetaSuspensionReason)
}

func TestCancelTerminalEsimFailsFast(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateRevoked, id.ICCID(testICCID))

	_, err := f.service.Cancel(context.Background(), entity.ID, "customer request")
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestVendorFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateActive, id.ICCID(testICCID))
	f.vendor.EXPECT().RevokeProfile(gomock.Any(), id.ICCID(testICCID), "chargeback").
		Return(dErrors.New(dErrors.CodeVendorTransport, "connection reset"))

	_, err := f.service.Revoke(context.Background(), entity.ID, "chargeback")
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeVendorTransport))

	got, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, got.State)
}

func TestCancelBeforeIccidBoundRejected(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, "")

	_, err := f.service.Cancel(context.Background(), entity.ID, "customer request")
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestUsageRequiresBoundIccid(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StatePendingActivation, "")

	_, err := f.service.Usage(context.Background(), entity.ID)
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestUsageFoldsReportIntoMetadata(t *testing.T) {
	f := newFixture(t)
	entity := f.seed(t, models.StateActive, id.ICCID(testICCID))
	f.vendor.EXPECT().Usage(gomock.Any(), id.ICCID(testICCID)).
		Return(&vendor.UsageReport{TotalBytes: 5 << 30, UsedBytes: 1024, RemainingBytes: 2048}, nil)

	report, err := f.service.Usage(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1024), report.UsedBytes)

	stored, err := f.store.GetByID(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, "1024", stored.Metadata[models.MetaLastUsageBytes])
	require.Equal(t, "2048", stored.Metadata[models.MetaUsageRemaining])
}

func TestByOrderListsProvisionedEntities(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.StateActive, id.ICCID(testICCID))

	out, err := f.service.ByOrder(context.Background(), id.OrderID(123))
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = f.service.ByOrder(context.Background(), id.OrderID(999))
	require.NoError(t, err)
	require.Empty(t, out)
}
