package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebank-escrow/internal/core/domain"
	"timebank-escrow/internal/core/ports"
	"timebank-escrow/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNotificationDispatcher_DeliversToEveryChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inbox := mocks.NewMockNotificationChannel(ctrl)
	stream := mocks.NewMockNotificationChannel(ctrl)
	inbox.EXPECT().Name().Return("inbox").AnyTimes()
	stream.EXPECT().Name().Return("stream").AnyTimes()

	userID := uuid.New()
	escrowID := uuid.New()
	matchNotification := gomock.Cond(func(x any) bool {
		n, ok := x.(*domain.Notification)
		return ok && n.UserID == userID && n.Type == domain.EventDisputeResolved &&
			n.Title == "Dispute Resolved" && n.Priority == domain.PriorityHigh &&
			n.EscrowID != nil && *n.EscrowID == escrowID
	})
	inbox.EXPECT().Deliver(gomock.Any(), matchNotification).Return(nil)
	stream.EXPECT().Deliver(gomock.Any(), matchNotification).Return(nil)

	d := NewNotificationDispatcher([]ports.NotificationChannel{inbox, stream}, []time.Duration{}, newTestLogger())
	d.Notify(context.Background(), userID, domain.EventDisputeResolved, domain.NotificationPayload{
		EscrowID: escrowID,
		Message:  "released: work delivered",
	})

	require.NoError(t, d.Wait(context.Background()))
}

func TestNotificationDispatcher_RetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ch := mocks.NewMockNotificationChannel(ctrl)
	ch.EXPECT().Name().Return("inbox").AnyTimes()
	gomock.InOrder(
		ch.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("unavailable")),
		ch.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(nil),
	)

	d := NewNotificationDispatcher([]ports.NotificationChannel{ch}, []time.Duration{time.Millisecond, time.Millisecond}, newTestLogger())
	d.Notify(context.Background(), uuid.New(), domain.EventEscrowCreated, domain.NotificationPayload{})

	require.NoError(t, d.Wait(context.Background()))
}

func TestNotificationDispatcher_GivesUpAfterRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ch := mocks.NewMockNotificationChannel(ctrl)
	ch.EXPECT().Name().Return("stream").AnyTimes()
	ch.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).Times(3)

	d := NewNotificationDispatcher([]ports.NotificationChannel{ch}, []time.Duration{time.Millisecond, time.Millisecond}, newTestLogger())
	d.Notify(context.Background(), uuid.New(), domain.EventEscrowReleased, domain.NotificationPayload{})

	require.NoError(t, d.Wait(context.Background()))
}

func TestNotificationDispatcher_NotifyDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	ch := &blockingChannel{release: release}

	d := NewNotificationDispatcher([]ports.NotificationChannel{ch}, []time.Duration{}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		d.Notify(ctx, uuid.New(), domain.EventEscrowCreated, domain.NotificationPayload{})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on delivery")
	}

	// Cancelling the caller's context must not abort delivery.
	cancel()
	close(release)
	require.NoError(t, d.Wait(context.Background()))
	assert.NoError(t, ch.err)
}

func TestNotificationDispatcher_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ch := &blockingChannel{release: release}

	d := NewNotificationDispatcher([]ports.NotificationChannel{ch}, []time.Duration{}, newTestLogger())
	d.Notify(context.Background(), uuid.New(), domain.EventEscrowCreated, domain.NotificationPayload{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

type blockingChannel struct {
	release chan struct{}
	err     error
}

func (c *blockingChannel) Name() string { return "blocking" }

func (c *blockingChannel) Deliver(ctx context.Context, _ *domain.Notification) error {
	<-c.release
	c.err = ctx.Err()
	return nil
}
