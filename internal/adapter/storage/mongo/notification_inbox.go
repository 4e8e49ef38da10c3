package mongo

import (
	"context"
	"fmt"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultInboxLimit = 50

// Collection is the subset of *mongo.Collection used by the inbox.
type Collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// NotificationInbox stores notifications per user. It is both a delivery
// channel for the dispatcher and the read side of GET /notifications.
type NotificationInbox struct {
	coll Collection
}

// NewNotificationInbox creates an inbox over the given collection.
func NewNotificationInbox(coll Collection) *NotificationInbox {
	return &NotificationInbox{coll: coll}
}

// Name identifies the channel in dispatcher logs.
func (i *NotificationInbox) Name() string {
	return "mongo_inbox"
}

// Deliver inserts the notification. Redelivery of the same notification fails
// with a duplicate key error on _id, so retries never double-store.
func (i *NotificationInbox) Deliver(ctx context.Context, n *domain.Notification) error {
	if _, err := i.coll.InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (i *NotificationInbox) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := i.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := []domain.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return notifications, nil
}
