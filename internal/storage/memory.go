package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// MemoryStore keeps requests and notifications in process memory. Each
// request carries its own lock so transitions on different requests never
// contend.
type MemoryStore struct {
	mu    sync.RWMutex
	reqs  map[string]*requestEntry
	nmu   sync.Mutex
	notes map[inboxKey][]models.Notification
}

type requestEntry struct {
	mu sync.Mutex
	r  models.ServiceRequest
}

type inboxKey struct {
	UserID string
	Role   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reqs:  make(map[string]*requestEntry),
		notes: make(map[inboxKey][]models.Notification),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs[r.ID] = &requestEntry{r: *cloneRequest(r)}
	return nil
}

func (m *MemoryStore) entry(id string) (*requestEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.reqs[id]
	return e, ok
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRequest(&e.r), nil
}

func (m *MemoryStore) ListPendingFor(ctx context.Context, operatorID string) ([]*models.ServiceRequest, error) {
	m.mu.RLock()
	entries := make([]*requestEntry, 0, len(m.reqs))
	for _, e := range m.reqs {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []*models.ServiceRequest
	for _, e := range entries {
		e.mu.Lock()
		if e.r.Status == models.StatusPending && contains(e.r.OfferedTo, operatorID) {
			out = append(out, cloneRequest(&e.r))
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AssignOperator(ctx context.Context, id, operatorID string) (*models.ServiceRequest, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !contains(e.r.OfferedTo, operatorID) {
		return nil, models.ErrNotFound
	}
	switch {
	case e.r.Status == models.StatusPending:
		e.r.OperatorID = operatorID
		e.r.Status = models.StatusAccepted
		e.r.Version++
		return cloneRequest(&e.r), nil
	case e.r.Status.Assigned():
		return nil, models.ErrAlreadyAssigned
	default:
		return nil, &models.InvalidTransitionError{RequestID: id, From: e.r.Status, Attempted: models.StatusAccepted}
	}
}

func (m *MemoryStore) AdvanceStatus(ctx context.Context, id, operatorID string, from, to models.Status) (*models.ServiceRequest, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r.OperatorID != operatorID {
		return nil, models.ErrNotFound
	}
	if e.r.Status != from || !from.CanTransitionTo(to) {
		return nil, &models.InvalidTransitionError{RequestID: id, From: e.r.Status, Attempted: to}
	}
	e.r.Status = to
	e.r.Version++
	return cloneRequest(&e.r), nil
}

func (m *MemoryStore) CompleteRequest(ctx context.Context, id, actorID string, at time.Time) (*models.ServiceRequest, bool, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, false, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.r.IsParty(actorID) {
		return nil, false, models.ErrNotFound
	}
	switch e.r.Status {
	case models.StatusCompleted:
		return cloneRequest(&e.r), true, nil
	case models.StatusOnSite:
		e.r.Status = models.StatusCompleted
		e.r.CompletedAt = &at
		e.r.Version++
		return cloneRequest(&e.r), false, nil
	default:
		return nil, false, &models.InvalidTransitionError{RequestID: id, From: e.r.Status, Attempted: models.StatusCompleted}
	}
}

func (m *MemoryStore) CancelRequest(ctx context.Context, id, actorID, reason string) (*models.ServiceRequest, string, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, "", models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.r.IsParty(actorID) {
		return nil, "", models.ErrNotFound
	}
	if e.r.Status.Terminal() {
		return nil, "", &models.InvalidTransitionError{RequestID: id, From: e.r.Status, Attempted: models.StatusCancelled}
	}
	operatorID := e.r.OperatorID
	e.r.Status = models.StatusCancelled
	e.r.OperatorID = ""
	e.r.CancelledBy = actorID
	e.r.CancelReason = reason
	e.r.Version++
	return cloneRequest(&e.r), operatorID, nil
}

func (m *MemoryStore) AttachRating(ctx context.Context, id, clientID string, rec models.RatingRecord) (*models.ServiceRequest, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r.ClientID != clientID {
		return nil, models.ErrNotFound
	}
	if !e.r.Status.Terminal() {
		return nil, models.ErrNotRatable
	}
	if e.r.Rating != nil {
		return nil, models.ErrAlreadyRated
	}
	e.r.Rating = &rec
	return cloneRequest(&e.r), nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, id string) (*models.ServiceRequest, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.r.Status != models.StatusCompleted {
		return nil, models.ErrNotCompleted
	}
	e.r.Paid = true
	return cloneRequest(&e.r), nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	k := inboxKey{UserID: n.UserID, Role: n.Role}
	m.nmu.Lock()
	defer m.nmu.Unlock()
	m.notes[k] = append([]models.Notification{*n}, m.notes[k]...)
	return nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, userID, role string, limit int) ([]models.Notification, error) {
	m.nmu.Lock()
	defer m.nmu.Unlock()
	list := m.notes[inboxKey{UserID: userID, Role: role}]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	out := make([]models.Notification, len(list))
	copy(out, list)
	return out, nil
}

func (m *MemoryStore) UnreadCount(ctx context.Context, userID, role string) (int, error) {
	m.nmu.Lock()
	defer m.nmu.Unlock()
	count := 0
	for _, n := range m.notes[inboxKey{UserID: userID, Role: role}] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, userID, role, id string) error {
	m.nmu.Lock()
	defer m.nmu.Unlock()
	k := inboxKey{UserID: userID, Role: role}
	for i := range m.notes[k] {
		if m.notes[k][i].ID == id {
			m.notes[k][i].Read = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MemoryStore) MarkAllRead(ctx context.Context, userID, role string) error {
	m.nmu.Lock()
	defer m.nmu.Unlock()
	k := inboxKey{UserID: userID, Role: role}
	for i := range m.notes[k] {
		m.notes[k][i].Read = true
	}
	return nil
}

func (m *MemoryStore) DeleteNotification(ctx context.Context, userID, role, id string) error {
	m.nmu.Lock()
	defer m.nmu.Unlock()
	k := inboxKey{UserID: userID, Role: role}
	for i, n := range m.notes[k] {
		if n.ID == id {
			m.notes[k] = append(m.notes[k][:i], m.notes[k][i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func cloneRequest(r *models.ServiceRequest) *models.ServiceRequest {
	cp := *r
	cp.OfferedTo = append([]string(nil), r.OfferedTo...)
	if r.Rating != nil {
		rec := *r.Rating
		cp.Rating = &rec
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// NewID returns a random 16-hex-char identifier.
func NewID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
