package service

import (
	"context"
	"errors"
	"testing"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/core/ports/mocks"
	"timebank-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestReportingService_ListActiveEscrows(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	escrowRepo := mocks.NewMockEscrowRepository(ctrl)
	svc := NewReportingService(escrowRepo, mocks.NewMockAccountRepository(ctrl), nil)

	expected := []domain.EscrowRecord{{ID: uuid.New(), Status: domain.EscrowStatusHeld}}
	escrowRepo.EXPECT().List(gomock.Any(), ports.EscrowListParams{
		Statuses: []domain.EscrowStatus{domain.EscrowStatusHeld, domain.EscrowStatusDisputed},
		Limit:    20,
		Offset:   0,
	}).Return(expected, nil)

	got, err := svc.ListActiveEscrows(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestReportingService_ListPartyEscrows_CapsLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	escrowRepo := mocks.NewMockEscrowRepository(ctrl)
	svc := NewReportingService(escrowRepo, mocks.NewMockAccountRepository(ctrl), nil)
	userID := uuid.New()

	escrowRepo.EXPECT().List(gomock.Any(), ports.EscrowListParams{PartyID: &userID, Limit: 100, Offset: 40}).
		Return([]domain.EscrowRecord{}, nil)

	got, err := svc.ListPartyEscrows(context.Background(), userID, 500, 40)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReportingService_ListActiveEscrows_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	escrowRepo := mocks.NewMockEscrowRepository(ctrl)
	svc := NewReportingService(escrowRepo, mocks.NewMockAccountRepository(ctrl), nil)

	escrowRepo.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, err := svc.ListActiveEscrows(context.Background(), 10, 0)
	assert.Equal(t, apperror.CodeStoreUnavailable, apperror.Code(err))
}

func TestReportingService_GetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	escrowRepo := mocks.NewMockEscrowRepository(ctrl)
	accountRepo := mocks.NewMockAccountRepository(ctrl)
	svc := NewReportingService(escrowRepo, accountRepo, nil)

	escrowRepo.EXPECT().Stats(gomock.Any()).Return(&domain.EscrowStats{
		ActiveEscrows: 3, HeldEscrows: 2, DisputedEscrows: 1, DisputesOpen: 1, CreditsInFlight: 800,
	}, nil)
	accountRepo.EXPECT().TotalBalance(gomock.Any()).Return(int64(1200), nil)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1200), stats.CreditsInAccounts)
	assert.Equal(t, int64(2000), stats.TotalCredits())
}

func TestReportingService_ListNotifications(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inbox := mocks.NewMockNotificationInbox(ctrl)
	svc := NewReportingService(mocks.NewMockEscrowRepository(ctrl), mocks.NewMockAccountRepository(ctrl), inbox)
	userID := uuid.New()

	inbox.EXPECT().ListByUser(gomock.Any(), userID, 20).Return([]domain.Notification{{UserID: userID}}, nil)

	got, err := svc.ListNotifications(context.Background(), userID, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	empty := NewReportingService(mocks.NewMockEscrowRepository(ctrl), mocks.NewMockAccountRepository(ctrl), nil)
	got, err = empty.ListNotifications(context.Background(), userID, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
