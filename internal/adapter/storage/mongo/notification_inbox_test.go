package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	args := m.Called(ctx, document)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mongo.InsertOneResult), args.Error(1)
}

func (m *MockCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mongo.Cursor), args.Error(1)
}

func testNotification(userID uuid.UUID, at time.Time) *domain.Notification {
	return domain.NewNotification(userID, domain.EventEscrowReleased, domain.NotificationPayload{
		EscrowID: uuid.New(),
		Message:  "5.00 hours released",
	}, at)
}

func TestNotificationInbox_Deliver(t *testing.T) {
	ctx := context.Background()
	n := testNotification(uuid.New(), time.Now().UTC())

	t.Run("Inserted", func(t *testing.T) {
		coll := new(MockCollection)
		coll.On("InsertOne", ctx, n).Return(&mongo.InsertOneResult{InsertedID: n.ID}, nil)

		inbox := NewNotificationInbox(coll)
		assert.NoError(t, inbox.Deliver(ctx, n))
		assert.Equal(t, "mongo_inbox", inbox.Name())
		coll.AssertExpectations(t)
	})

	t.Run("DuplicateIsDelivered", func(t *testing.T) {
		coll := new(MockCollection)
		dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "duplicate key"}}}
		coll.On("InsertOne", ctx, n).Return(nil, dup)

		assert.NoError(t, NewNotificationInbox(coll).Deliver(ctx, n))
	})

	t.Run("InsertFails", func(t *testing.T) {
		coll := new(MockCollection)
		coll.On("InsertOne", ctx, n).Return(nil, errors.New("connection reset"))

		err := NewNotificationInbox(coll).Deliver(ctx, n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert notification")
	})
}

func TestNotificationInbox_ListByUser(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	newer := testNotification(userID, now)
	older := testNotification(userID, now.Add(-time.Hour))

	t.Run("Decodes", func(t *testing.T) {
		cursor, err := mongo.NewCursorFromDocuments([]any{newer, older}, nil, nil)
		require.NoError(t, err)

		coll := new(MockCollection)
		coll.On("Find", ctx, bson.M{"user_id": userID}).Return(cursor, nil)

		got, err := NewNotificationInbox(coll).ListByUser(ctx, userID, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer.ID, got[0].ID)
		assert.Equal(t, userID, got[0].UserID)
		assert.Equal(t, domain.EventEscrowReleased, got[0].Type)
		assert.Equal(t, "Credits Released", got[0].Title)
		assert.True(t, newer.CreatedAt.Equal(got[0].CreatedAt))
		coll.AssertExpectations(t)
	})

	t.Run("Empty", func(t *testing.T) {
		cursor, err := mongo.NewCursorFromDocuments(nil, nil, nil)
		require.NoError(t, err)

		coll := new(MockCollection)
		coll.On("Find", ctx, bson.M{"user_id": userID}).Return(cursor, nil)

		got, err := NewNotificationInbox(coll).ListByUser(ctx, userID, 0)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("FindFails", func(t *testing.T) {
		coll := new(MockCollection)
		coll.On("Find", ctx, bson.M{"user_id": userID}).Return(nil, errors.New("timeout"))

		_, err := NewNotificationInbox(coll).ListByUser(ctx, userID, 10)
		assert.Error(t, err)
	})
}
