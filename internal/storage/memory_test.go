package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

func newTestRequest(id string, offered ...string) *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:        id,
		ClientID:  "client-1",
		Status:    models.StatusPending,
		Version:   1,
		OfferedTo: offered,
		CreatedAt: time.Now(),
	}
}

func TestAssignOperator_CASExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateRequest(ctx, newTestRequest("r1", "op-1", "op-2", "op-3")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 3
	ops := []string{"op-1", "op-2", "op-3"}
	var wg sync.WaitGroup
	wins := make(chan string, n)
	losses := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(op string) {
			defer wg.Done()
			if _, err := s.AssignOperator(ctx, "r1", op); err != nil {
				losses <- err
			} else {
				wins <- op
			}
		}(ops[i])
	}
	wg.Wait()
	close(wins)
	close(losses)

	if len(wins) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(wins))
	}
	for err := range losses {
		if !errors.Is(err, models.ErrAlreadyAssigned) {
			t.Fatalf("loser should get ErrAlreadyAssigned, got %v", err)
		}
	}

	r, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != models.StatusAccepted || r.OperatorID == "" {
		t.Fatalf("bad final state: %s op=%q", r.Status, r.OperatorID)
	}
	if r.Version != 2 {
		t.Fatalf("version should advance once, got %d", r.Version)
	}
}

func TestAssignOperator_NotOffered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	if _, err := s.AssignOperator(ctx, "r1", "op-9"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("uninvited operator should see not-found, got %v", err)
	}
}

func TestAdvanceStatus_WrongOperatorAndWrongFrom(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	if _, err := s.AssignOperator(ctx, "r1", "op-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := s.AdvanceStatus(ctx, "r1", "op-2", models.StatusAccepted, models.StatusEnRoute); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign operator should see not-found, got %v", err)
	}

	var invalid *models.InvalidTransitionError
	if _, err := s.AdvanceStatus(ctx, "r1", "op-1", models.StatusEnRoute, models.StatusOnSite); !errors.As(err, &invalid) {
		t.Fatalf("stale from should fail as invalid transition, got %v", err)
	}

	r, err := s.AdvanceStatus(ctx, "r1", "op-1", models.StatusAccepted, models.StatusEnRoute)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if r.Status != models.StatusEnRoute || r.Version != 3 {
		t.Fatalf("bad state after advance: %s v=%d", r.Status, r.Version)
	}
}

func TestCompleteRequest_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	_, _ = s.AssignOperator(ctx, "r1", "op-1")
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusAccepted, models.StatusEnRoute)
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusEnRoute, models.StatusOnSite)

	first := time.Now()
	r, already, err := s.CompleteRequest(ctx, "r1", "op-1", first)
	if err != nil || already {
		t.Fatalf("first complete: already=%v err=%v", already, err)
	}
	v := r.Version

	r2, already, err := s.CompleteRequest(ctx, "r1", "client-1", first.Add(time.Minute))
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !already {
		t.Fatalf("second complete should report already")
	}
	if r2.Version != v {
		t.Fatalf("second complete must not bump version: %d vs %d", r2.Version, v)
	}
	if !r2.CompletedAt.Equal(first) {
		t.Fatalf("completion timestamp overwritten")
	}
}

func TestCompleteRequest_RequiresOnSite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	_, _ = s.AssignOperator(ctx, "r1", "op-1")

	var invalid *models.InvalidTransitionError
	if _, _, err := s.CompleteRequest(ctx, "r1", "op-1", time.Now()); !errors.As(err, &invalid) {
		t.Fatalf("complete from ACCEPTED should fail, got %v", err)
	}
}

func TestCancelRequest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))

	if _, _, err := s.CancelRequest(ctx, "r1", "stranger", "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("non-party cancel should be not-found, got %v", err)
	}

	r, op, err := s.CancelRequest(ctx, "r1", "client-1", "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Status != models.StatusCancelled || r.CancelledBy != "client-1" {
		t.Fatalf("bad cancel state: %+v", r)
	}
	if op != "" {
		t.Fatalf("unassigned cancel reported operator %q", op)
	}

	var invalid *models.InvalidTransitionError
	if _, _, err := s.CancelRequest(ctx, "r1", "client-1", "again"); !errors.As(err, &invalid) {
		t.Fatalf("cancelling terminal should fail, got %v", err)
	}
}

func TestCancelRequest_ClearsAssignment(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	_, _ = s.AssignOperator(ctx, "r1", "op-1")
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusAccepted, models.StatusEnRoute)

	r, op, err := s.CancelRequest(ctx, "r1", "op-1", "mechanical issue")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if op != "op-1" {
		t.Fatalf("cancel must report the operator that held the job, got %q", op)
	}
	// an operator is carried only while the status says one is assigned
	if r.Status.Assigned() {
		t.Fatalf("CANCELLED reports assigned")
	}
	if r.OperatorID != "" {
		t.Fatalf("cancelled request still carries operator %q", r.OperatorID)
	}
	fresh, _ := s.GetRequest(ctx, "r1")
	if fresh.OperatorID != "" {
		t.Fatalf("persisted cancel kept operator %q", fresh.OperatorID)
	}
	if fresh.CancelledBy != "op-1" {
		t.Fatalf("audit trail lost: %+v", fresh)
	}
}

func TestAttachRating_Rules(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))
	rec := models.RatingRecord{Stars: 5, CreatedAt: time.Now()}

	if _, err := s.AttachRating(ctx, "r1", "client-1", rec); !errors.Is(err, models.ErrNotRatable) {
		t.Fatalf("rating a live request should fail, got %v", err)
	}

	_, _ = s.AssignOperator(ctx, "r1", "op-1")
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusAccepted, models.StatusEnRoute)
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusEnRoute, models.StatusOnSite)
	_, _, _ = s.CompleteRequest(ctx, "r1", "op-1", time.Now())

	if _, err := s.AttachRating(ctx, "r1", "op-1", rec); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("only the client rates, got %v", err)
	}

	r, err := s.AttachRating(ctx, "r1", "client-1", rec)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if r.Rating == nil || r.Rating.Stars != 5 {
		t.Fatalf("rating not attached: %+v", r.Rating)
	}

	if _, err := s.AttachRating(ctx, "r1", "client-1", rec); !errors.Is(err, models.ErrAlreadyRated) {
		t.Fatalf("second rating should fail, got %v", err)
	}
}

func TestMarkPaid_RequiresCompleted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))

	if _, err := s.MarkPaid(ctx, "r1"); !errors.Is(err, models.ErrNotCompleted) {
		t.Fatalf("paying a pending request should fail, got %v", err)
	}

	_, _ = s.AssignOperator(ctx, "r1", "op-1")
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusAccepted, models.StatusEnRoute)
	_, _ = s.AdvanceStatus(ctx, "r1", "op-1", models.StatusEnRoute, models.StatusOnSite)
	_, _, _ = s.CompleteRequest(ctx, "r1", "op-1", time.Now())

	r, err := s.MarkPaid(ctx, "r1")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !r.Paid {
		t.Fatalf("paid flag not set")
	}
}

func TestListPendingFor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	older := newTestRequest("r1", "op-1")
	older.CreatedAt = time.Now().Add(-time.Hour)
	_ = s.CreateRequest(ctx, older)
	_ = s.CreateRequest(ctx, newTestRequest("r2", "op-1", "op-2"))
	_ = s.CreateRequest(ctx, newTestRequest("r3", "op-2"))

	// accepted requests drop out of the pending view
	taken := newTestRequest("r4", "op-1")
	_ = s.CreateRequest(ctx, taken)
	_, _ = s.AssignOperator(ctx, "r4", "op-1")

	list, err := s.ListPendingFor(ctx, "op-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 pending offers, got %d", len(list))
	}
	if list[0].ID != "r2" || list[1].ID != "r1" {
		t.Fatalf("expected newest first, got %s then %s", list[0].ID, list[1].ID)
	}
}

func TestGetRequest_ReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateRequest(ctx, newTestRequest("r1", "op-1"))

	r, _ := s.GetRequest(ctx, "r1")
	r.Status = models.StatusCompleted
	r.OfferedTo[0] = "tampered"

	fresh, _ := s.GetRequest(ctx, "r1")
	if fresh.Status != models.StatusPending || fresh.OfferedTo[0] != "op-1" {
		t.Fatalf("store state leaked through returned pointer")
	}
}

func TestNotifications_CRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateNotification(ctx, &models.Notification{UserID: "u1", Role: models.RoleClient, Title: "t"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// same user id, different role: separate inbox
	_ = s.CreateNotification(ctx, &models.Notification{UserID: "u1", Role: models.RoleOperator, Title: "other"})

	count, _ := s.UnreadCount(ctx, "u1", models.RoleClient)
	if count != 3 {
		t.Fatalf("unread = %d, want 3", count)
	}

	list, _ := s.ListRecent(ctx, "u1", models.RoleClient, 2)
	if len(list) != 2 {
		t.Fatalf("limit ignored: %d", len(list))
	}

	if err := s.MarkRead(ctx, "u1", models.RoleClient, list[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	count, _ = s.UnreadCount(ctx, "u1", models.RoleClient)
	if count != 2 {
		t.Fatalf("unread after mark = %d, want 2", count)
	}

	if err := s.MarkRead(ctx, "u1", models.RoleClient, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing id should be not-found, got %v", err)
	}

	if err := s.MarkAllRead(ctx, "u1", models.RoleClient); err != nil {
		t.Fatalf("mark all: %v", err)
	}
	count, _ = s.UnreadCount(ctx, "u1", models.RoleClient)
	if count != 0 {
		t.Fatalf("unread after mark all = %d", count)
	}

	if err := s.DeleteNotification(ctx, "u1", models.RoleClient, list[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	remaining, _ := s.ListRecent(ctx, "u1", models.RoleClient, 0)
	if len(remaining) != 2 {
		t.Fatalf("delete did not remove: %d", len(remaining))
	}

	// operator inbox untouched
	count, _ = s.UnreadCount(ctx, "u1", models.RoleOperator)
	if count != 1 {
		t.Fatalf("operator inbox drifted: %d", count)
	}
}
