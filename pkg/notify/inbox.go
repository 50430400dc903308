package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownNotification is returned for an id the inbox does not hold.
var ErrUnknownNotification = errors.New("unknown notification")

// Inbox is a Displayer keeping open notifications in memory, newest last.
// Once full, the oldest notification is dropped.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	items    []Notification
}

// NewInbox creates an inbox holding at most capacity notifications
// (0 means unbounded).
func NewInbox(capacity int) *Inbox {
	return &Inbox{capacity: capacity}
}

// Show stores n under a new id.
func (b *Inbox) Show(_ context.Context, n Notification) (Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n.ID = uuid.NewString()
	b.items = append(b.items, n)
	if b.capacity > 0 && len(b.items) > b.capacity {
		b.items = b.items[len(b.items)-b.capacity:]
	}
	return n, nil
}

// Close removes the notification. Closing an unknown id is a no-op.
func (b *Inbox) Close(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.items {
		if n.ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Get returns an open notification.
func (b *Inbox) Get(id string) (Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range b.items {
		if n.ID == id {
			return n, nil
		}
	}
	return Notification{}, ErrUnknownNotification
}

// List returns the open notifications, oldest first.
func (b *Inbox) List() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notification{}, b.items...)
}
