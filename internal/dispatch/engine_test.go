package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alexitico1989/gruapp-sub003/internal/channel"
	"github.com/alexitico1989/gruapp-sub003/internal/models"
	"github.com/alexitico1989/gruapp-sub003/internal/routing"
	"github.com/alexitico1989/gruapp-sub003/internal/storage"
)

type stubOracle struct {
	route routing.Route
	err   error
}

func (s *stubOracle) Route(ctx context.Context, origin, dest models.Coord) (routing.Route, error) {
	return s.route, s.err
}

type fakePresence struct {
	mu        sync.Mutex
	available []models.OperatorPresenceEntry
	parked    map[string]bool
	released  []string
}

func newFakePresence(ops ...string) *fakePresence {
	f := &fakePresence{parked: map[string]bool{}}
	for _, id := range ops {
		f.available = append(f.available, models.OperatorPresenceEntry{OperatorID: id, Available: true})
	}
	return f
}

func (f *fakePresence) Nearby(origin models.Coord, radiusKm float64, limit int) []models.OperatorPresenceEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.available) {
		limit = len(f.available)
	}
	return append([]models.OperatorPresenceEntry(nil), f.available[:limit]...)
}

func (f *fakePresence) Park(operatorID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked[operatorID] = true
	return true
}

func (f *fakePresence) Release(operatorID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, operatorID)
	delete(f.parked, operatorID)
	return true
}

// fakeChannel records per-inbox deliveries; inboxes listed in offline
// report ErrNotSubscribed like the real channel.
type fakeChannel struct {
	mu      sync.Mutex
	sent    map[string][]models.NotificationEvent // key user:role
	offline map[string]bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: map[string][]models.NotificationEvent{}, offline: map[string]bool{}}
}

func (f *fakeChannel) Publish(userID, role string, ev models.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + ":" + role
	if f.offline[k] {
		return channel.ErrNotSubscribed
	}
	f.sent[k] = append(f.sent[k], ev)
	return nil
}

func (f *fakeChannel) Broadcast(role string, ev models.NotificationEvent) int { return 0 }

func (f *fakeChannel) eventsFor(userID, role string) []models.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationEvent(nil), f.sent[userID+":"+role]...)
}

func newTestEngine(pres *fakePresence, ch *fakeChannel) (*Engine, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	e := &Engine{
		Store:    store,
		Notifs:   store,
		Presence: pres,
		Channel:  ch,
		Oracle:   &stubOracle{route: routing.Route{DistanceKm: 8.2, DurationMin: 14}},
		Pricing:  routing.Pricing{BaseFare: 25000, PerKmRate: 1350, Commission: 0.2},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),

		SearchRadiusKm: 10,
		MaxCandidates:  8,
	}
	return e, store
}

var (
	origin = models.Waypoint{Coord: models.Coord{Lat: -33.4489, Lon: -70.6693}, Address: "Plaza de Armas"}
	dest   = models.Waypoint{Coord: models.Coord{Lat: -33.4000, Lon: -70.5700}, Address: "Taller Vitacura"}
)

func TestCreate_PricesAndOffers(t *testing.T) {
	pres := newFakePresence("op-1", "op-2")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)

	req, err := e.Create(context.Background(), "client-1", origin, dest, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != models.StatusPending || req.Version != 1 {
		t.Fatalf("bad initial state: %s v=%d", req.Status, req.Version)
	}
	if req.Quote.ClientAmount != 36070 {
		t.Fatalf("quote = %d, want 36070", req.Quote.ClientAmount)
	}
	if len(req.OfferedTo) != 2 {
		t.Fatalf("expected 2 candidates, got %v", req.OfferedTo)
	}

	for _, op := range []string{"op-1", "op-2"} {
		evs := ch.eventsFor(op, models.RoleOperator)
		var offers, mirrors []models.NotificationEvent
		for _, ev := range evs {
			switch ev.Kind {
			case models.EventNewRequest:
				offers = append(offers, ev)
			case models.EventNotification:
				mirrors = append(mirrors, ev)
			}
		}
		if len(offers) != 1 {
			t.Fatalf("candidate %s missed the offer: %v", op, evs)
		}
		if offers[0].Version != 1 {
			t.Fatalf("offer event should carry version 1, got %d", offers[0].Version)
		}
		// the durable record rides along on the live channel so a
		// connected subscriber never has to pull for it
		if len(mirrors) != 1 {
			t.Fatalf("candidate %s missed the inbox mirror: %v", op, evs)
		}
		n, ok := mirrors[0].Payload.(*models.Notification)
		if !ok || n.UserID != op || n.RequestID != req.ID {
			t.Fatalf("bad inbox mirror payload: %+v", mirrors[0].Payload)
		}
	}
}

func TestCreate_DurableFallbackForOfflineCandidate(t *testing.T) {
	pres := newFakePresence("op-1")
	ch := newFakeChannel()
	ch.offline["op-1:operator"] = true
	e, store := newTestEngine(pres, ch)

	req, err := e.Create(context.Background(), "client-1", origin, dest, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// dropped push never blocks the transition; the durable record and the
	// pull endpoint cover the gap
	count, _ := store.UnreadCount(context.Background(), "op-1", models.RoleOperator)
	if count != 1 {
		t.Fatalf("expected durable notification, unread=%d", count)
	}
	pending, _ := e.PendingFor(context.Background(), "op-1")
	if len(pending) != 1 || pending[0].ID != req.ID {
		t.Fatalf("pull reconciliation missed the offer: %v", pending)
	}
}

func TestCreate_RouteFailure(t *testing.T) {
	e, _ := newTestEngine(newFakePresence(), newFakeChannel())
	e.Oracle = &stubOracle{err: models.ErrExternalUnavailable}
	if _, err := e.Create(context.Background(), "client-1", origin, dest, false); !errors.Is(err, models.ErrExternalUnavailable) {
		t.Fatalf("expected routing failure surfaced, got %v", err)
	}
}

func TestAccept_RaceHasOneWinner(t *testing.T) {
	pres := newFakePresence("op-1", "op-2", "op-3")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)

	var wg sync.WaitGroup
	winners := make(chan string, 3)
	for _, op := range []string{"op-1", "op-2", "op-3"} {
		wg.Add(1)
		go func(op string) {
			defer wg.Done()
			if _, err := e.Accept(context.Background(), op, req.ID); err == nil {
				winners <- op
			} else if !errors.Is(err, models.ErrAlreadyAssigned) {
				t.Errorf("loser got %v", err)
			}
		}(op)
	}
	wg.Wait()
	close(winners)

	var winner string
	n := 0
	for op := range winners {
		winner = op
		n++
	}
	if n != 1 {
		t.Fatalf("expected one winner, got %d", n)
	}

	// winner pulled from the pool, client notified, losers saw withdrawal
	pres.mu.Lock()
	parked := pres.parked[winner]
	pres.mu.Unlock()
	if !parked {
		t.Fatalf("winner not parked")
	}
	var accepted int
	for _, ev := range ch.eventsFor("client-1", models.RoleClient) {
		if ev.Kind == models.EventRequestAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("client saw %d acceptances, want 1", accepted)
	}
	for _, op := range []string{"op-1", "op-2", "op-3"} {
		if op == winner {
			continue
		}
		evs := ch.eventsFor(op, models.RoleOperator)
		last := evs[len(evs)-1]
		if last.Kind != models.EventRequestTaken {
			t.Fatalf("loser %s missed withdrawal: %v", op, evs)
		}
	}
}

func TestAdvance_HappyPathAndSkipRejected(t *testing.T) {
	pres := newFakePresence("op-1")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)
	_, _ = e.Accept(context.Background(), "op-1", req.ID)

	var invalid *models.InvalidTransitionError
	if _, err := e.Advance(context.Background(), "op-1", req.ID, models.StatusOnSite); !errors.As(err, &invalid) {
		t.Fatalf("skipping EN_ROUTE should fail, got %v", err)
	}
	if _, err := e.Advance(context.Background(), "op-1", req.ID, models.StatusCompleted); !errors.As(err, &invalid) {
		t.Fatalf("COMPLETED is not an advance target, got %v", err)
	}

	r, err := e.Advance(context.Background(), "op-1", req.ID, models.StatusEnRoute)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if r.Status != models.StatusEnRoute {
		t.Fatalf("got %s", r.Status)
	}
	r, err = e.Advance(context.Background(), "op-1", req.ID, models.StatusOnSite)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	// client saw both status pushes with increasing versions
	evs := ch.eventsFor("client-1", models.RoleClient)
	var versions []int64
	for _, ev := range evs {
		if ev.Kind == models.EventStatusChanged {
			versions = append(versions, ev.Version)
		}
	}
	if len(versions) != 2 || versions[0] >= versions[1] {
		t.Fatalf("status events out of order: %v", versions)
	}
	if versions[1] != r.Version {
		t.Fatalf("event version %d != request version %d", versions[1], r.Version)
	}
}

func TestComplete_IdempotentAndReleases(t *testing.T) {
	pres := newFakePresence("op-1")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)
	_, _ = e.Accept(context.Background(), "op-1", req.ID)
	_, _ = e.Advance(context.Background(), "op-1", req.ID, models.StatusEnRoute)
	_, _ = e.Advance(context.Background(), "op-1", req.ID, models.StatusOnSite)

	r, err := e.Complete(context.Background(), "op-1", req.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != models.StatusCompleted || r.CompletedAt == nil {
		t.Fatalf("bad completion: %+v", r)
	}
	if len(pres.released) != 1 || pres.released[0] != "op-1" {
		t.Fatalf("operator not released: %v", pres.released)
	}

	before := len(ch.eventsFor("client-1", models.RoleClient))
	r2, err := e.Complete(context.Background(), "client-1", req.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if r2.Version != r.Version {
		t.Fatalf("second complete bumped version")
	}
	if len(pres.released) != 1 {
		t.Fatalf("second complete released again")
	}
	if len(ch.eventsFor("client-1", models.RoleClient)) != before {
		t.Fatalf("second complete re-notified")
	}
}

func TestCancel_ByOperatorRestoresAndNotifiesClient(t *testing.T) {
	pres := newFakePresence("op-1")
	ch := newFakeChannel()
	e, store := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)
	_, _ = e.Accept(context.Background(), "op-1", req.ID)
	_, _ = e.Advance(context.Background(), "op-1", req.ID, models.StatusEnRoute)

	r, err := e.Cancel(context.Background(), "op-1", req.ID, "mechanical issue")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Status != models.StatusCancelled || r.CancelledBy != "op-1" {
		t.Fatalf("bad cancel state: %+v", r)
	}
	if r.OperatorID != "" {
		t.Fatalf("cancelled request still carries operator %q", r.OperatorID)
	}
	if len(pres.released) != 1 || pres.released[0] != "op-1" {
		t.Fatalf("operator not restored: %v", pres.released)
	}

	evs := ch.eventsFor("client-1", models.RoleClient)
	var sawCancel bool
	for _, ev := range evs {
		if ev.Kind == models.EventRequestCancelled {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Fatalf("client missed cancellation: %v", evs)
	}
	// durable fallback for the client too
	count, _ := store.UnreadCount(context.Background(), "client-1", models.RoleClient)
	if count == 0 {
		t.Fatalf("expected durable cancel notification")
	}
	// the cancelling actor gets no self-notification
	opEvs := ch.eventsFor("op-1", models.RoleOperator)
	for _, ev := range opEvs {
		if ev.Kind == models.EventRequestCancelled {
			t.Fatalf("actor notified of own cancellation")
		}
	}
}

func TestCancel_PendingWithdrawsOffers(t *testing.T) {
	pres := newFakePresence("op-1", "op-2")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)

	if _, err := e.Cancel(context.Background(), "client-1", req.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(pres.released) != 0 {
		t.Fatalf("nothing to release on unassigned cancel")
	}
	for _, op := range []string{"op-1", "op-2"} {
		evs := ch.eventsFor(op, models.RoleOperator)
		last := evs[len(evs)-1]
		if last.Kind != models.EventRequestCancelled {
			t.Fatalf("candidate %s kept a stale offer: %v", op, evs)
		}
	}
}

func TestGet_PartyScoping(t *testing.T) {
	pres := newFakePresence("op-1")
	ch := newFakeChannel()
	e, _ := newTestEngine(pres, ch)
	req, _ := e.Create(context.Background(), "client-1", origin, dest, false)

	if _, err := e.Get(context.Background(), "client-1", req.ID); err != nil {
		t.Fatalf("client read: %v", err)
	}
	// offered candidate may inspect the pending request
	if _, err := e.Get(context.Background(), "op-1", req.ID); err != nil {
		t.Fatalf("candidate read: %v", err)
	}
	if _, err := e.Get(context.Background(), "stranger", req.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("stranger should see not-found, got %v", err)
	}
}
