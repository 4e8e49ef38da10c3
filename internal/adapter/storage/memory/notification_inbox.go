package memory

import (
	"context"
	"sort"
	"sync"

	"timebank-escrow/internal/core/domain"

	"github.com/google/uuid"
)

// NotificationInbox keeps notifications in process. It stands in for the
// MongoDB inbox when that is not configured.
type NotificationInbox struct {
	mu    sync.RWMutex
	items map[uuid.UUID][]domain.Notification
	seen  map[uuid.UUID]struct{}
}

// NewNotificationInbox creates an empty inbox.
func NewNotificationInbox() *NotificationInbox {
	return &NotificationInbox{
		items: make(map[uuid.UUID][]domain.Notification),
		seen:  make(map[uuid.UUID]struct{}),
	}
}

func (i *NotificationInbox) Name() string { return "memory_inbox" }

// Deliver stores n once; redelivery of the same id is ignored.
func (i *NotificationInbox) Deliver(_ context.Context, n *domain.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[n.ID]; ok {
		return nil
	}
	i.seen[n.ID] = struct{}{}
	i.items[n.UserID] = append(i.items[n.UserID], *n)
	return nil
}

// ListByUser returns up to limit notifications for userID, newest first.
func (i *NotificationInbox) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	i.mu.RLock()
	out := append([]domain.Notification{}, i.items[userID]...)
	i.mu.RUnlock()

	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
