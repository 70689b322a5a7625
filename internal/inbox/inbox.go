package inbox

import (
	"context"
	"sync"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// API is the pull side of the notification protocol. Its answers are ground
// truth; push arrivals only ever pre-warm the cache.
type API interface {
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// Inbox is the client-side reconciliation cache of durable notifications.
// Push events are applied optimistically and de-duplicated; any drift is
// bounded by the next LoadRecent/LoadUnreadCount resync.
type Inbox struct {
	api API

	mu     sync.Mutex
	items  []models.Notification
	unread int
	seen   map[string]bool // event ids already applied
}

func New(api API) *Inbox {
	return &Inbox{api: api, seen: make(map[string]bool)}
}

// LoadRecent pulls the full list, replaces the local cache and recomputes
// the unread count. This is the hard resync point.
func (b *Inbox) LoadRecent(ctx context.Context, limit int) error {
	list, err := b.api.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	b.mu.Lock()
	b.items = list
	b.unread = unread
	b.mu.Unlock()
	return nil
}

// LoadUnreadCount resyncs only the counter, healing drift from missed or
// duplicated pushes without refetching the list.
func (b *Inbox) LoadUnreadCount(ctx context.Context) (int, error) {
	count, err := b.api.UnreadCount(ctx)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.unread = count
	b.mu.Unlock()
	return count, nil
}

// ApplyPush optimistically prepends a pushed notification. Safe to call
// with a duplicate event: de-duplicated by event id before any count
// mutation.
func (b *Inbox) ApplyPush(eventID string, n models.Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventID == "" || b.seen[eventID] {
		return false
	}
	b.seen[eventID] = true
	b.items = append([]models.Notification{n}, b.items...)
	if !n.Read {
		b.unread++
	}
	return true
}

// MarkRead applies locally, then confirms over the network; a rejected call
// reverts the local mutation.
func (b *Inbox) MarkRead(ctx context.Context, id string) error {
	revert := b.localMarkRead(id)
	if err := b.api.MarkRead(ctx, id); err != nil {
		revert()
		return err
	}
	return nil
}

// MarkAllRead applies locally, then confirms; rejected calls revert.
func (b *Inbox) MarkAllRead(ctx context.Context) error {
	b.mu.Lock()
	changed := make([]int, 0)
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			changed = append(changed, i)
		}
	}
	prevUnread := b.unread
	b.unread = 0
	b.mu.Unlock()

	if err := b.api.MarkAllRead(ctx); err != nil {
		b.mu.Lock()
		for _, i := range changed {
			if i < len(b.items) {
				b.items[i].Read = false
			}
		}
		b.unread = prevUnread
		b.mu.Unlock()
		return err
	}
	return nil
}

// Delete removes locally, then confirms; rejected calls revert.
func (b *Inbox) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	idx := -1
	var removed models.Notification
	for i, n := range b.items {
		if n.ID == id {
			idx = i
			removed = n
			break
		}
	}
	if idx >= 0 {
		b.items = append(b.items[:idx], b.items[idx+1:]...)
		if !removed.Read {
			b.unread--
		}
	}
	b.mu.Unlock()

	if err := b.api.Delete(ctx, id); err != nil {
		if idx >= 0 {
			// the list may have been mutated while the call was in
			// flight; re-check under the lock instead of trusting idx
			b.mu.Lock()
			present := false
			for _, n := range b.items {
				if n.ID == id {
					present = true
					break
				}
			}
			if !present {
				at := idx
				if at > len(b.items) {
					at = len(b.items)
				}
				rest := append([]models.Notification{}, b.items[at:]...)
				b.items = append(append(b.items[:at:at], removed), rest...)
				if !removed.Read {
					b.unread++
				}
			}
			b.mu.Unlock()
		}
		return err
	}
	return nil
}

// Unread returns the cached unread count. Reconcilable to LoadUnreadCount
// at any time; never derived solely from push arrivals.
func (b *Inbox) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

// Items returns a snapshot of the cached list.
func (b *Inbox) Items() []models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Notification, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Inbox) localMarkRead(id string) (revert func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id && !b.items[i].Read {
			b.items[i].Read = true
			b.unread--
			return func() {
				b.mu.Lock()
				defer b.mu.Unlock()
				for j := range b.items {
					if b.items[j].ID == id {
						b.items[j].Read = false
						b.unread++
						return
					}
				}
			}
		}
	}
	return func() {}
}
