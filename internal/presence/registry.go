package presence

import (
	"math"
	"sync"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
	"github.com/alexitico1989/gruapp-sub003/internal/observability"
)

// Broadcaster fans presence deltas out to subscribed clients. The registry
// only broadcasts; it is never the system of record for job assignment.
type Broadcaster interface {
	Broadcast(role string, ev models.NotificationEvent) int
}

// Mirror is an optional write-through replica of the registry (Redis GEO in
// production). Writes are best-effort; the in-process maps stay
// authoritative for candidate selection.
type Mirror interface {
	Upsert(entry models.OperatorPresenceEntry)
	Remove(operatorID string)
}

// Registry tracks which operators are currently available and where.
// Concurrent writers race last-write-wins by arrival order; readers always
// see whole entries, never one half-written across a location update and an
// availability flip.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]models.OperatorPresenceEntry
	parked  map[string]models.OperatorPresenceEntry // busy on a job, restored on release
	bc      Broadcaster
	mirror  Mirror
}

func NewRegistry(bc Broadcaster) *Registry {
	return &Registry{
		entries: make(map[string]models.OperatorPresenceEntry),
		parked:  make(map[string]models.OperatorPresenceEntry),
		bc:      bc,
	}
}

// WithMirror attaches a write-through mirror. Not safe to call after the
// registry is in use.
func (g *Registry) WithMirror(m Mirror) *Registry {
	g.mirror = m
	return g
}

// SetAvailable registers or refreshes an operator's entry and broadcasts an
// availability delta. A manual toggle while parked on a job wins over the
// pending restore.
func (g *Registry) SetAvailable(operatorID string, loc models.Coord, profile models.OperatorProfile) {
	entry := models.OperatorPresenceEntry{
		OperatorID: operatorID,
		Available:  true,
		Loc:        loc,
		Profile:    profile,
		Updated:    time.Now(),
	}
	g.mu.Lock()
	g.entries[operatorID] = entry
	delete(g.parked, operatorID)
	total := len(g.entries)
	g.mu.Unlock()

	observability.OperatorsAvailable.Set(float64(total))
	if g.mirror != nil {
		g.mirror.Upsert(entry)
	}
	g.broadcast(models.EventOperatorAvailable, entry)
}

// SetUnavailable removes the entry (and any parked copy) and broadcasts a
// removal delta.
func (g *Registry) SetUnavailable(operatorID string) {
	g.mu.Lock()
	_, had := g.entries[operatorID]
	delete(g.entries, operatorID)
	delete(g.parked, operatorID)
	total := len(g.entries)
	g.mu.Unlock()

	observability.OperatorsAvailable.Set(float64(total))
	if g.mirror != nil {
		g.mirror.Remove(operatorID)
	}
	if had {
		g.broadcast(models.EventOperatorUnavailable, map[string]string{"operator_id": operatorID})
	}
}

// UpdateLocation moves an operator in place and broadcasts a location-only
// delta (no full snapshot resend). Unknown operators are ignored; parked
// operators are updated silently so the restored entry carries a fresh
// position.
func (g *Registry) UpdateLocation(operatorID string, loc models.Coord) {
	g.mu.Lock()
	entry, ok := g.entries[operatorID]
	if ok {
		entry.Loc = loc
		entry.Updated = time.Now()
		g.entries[operatorID] = entry
	} else if parked, isParked := g.parked[operatorID]; isParked {
		parked.Loc = loc
		parked.Updated = time.Now()
		g.parked[operatorID] = parked
	}
	g.mu.Unlock()

	if !ok {
		return
	}
	if g.mirror != nil {
		g.mirror.Upsert(entry)
	}
	g.broadcast(models.EventOperatorLocation, map[string]any{"operator_id": operatorID, "loc": loc})
}

// ListAvailable returns a consistent snapshot of all available operators.
// Used by newly connecting clients and as the periodic reconciliation poll
// covering missed deltas.
func (g *Registry) ListAvailable() []models.OperatorPresenceEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.OperatorPresenceEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	return out
}

// Nearby returns up to limit available operators within radiusKm of origin,
// closest first.
func (g *Registry) Nearby(origin models.Coord, radiusKm float64, limit int) []models.OperatorPresenceEntry {
	g.mu.RLock()
	type pair struct {
		e    models.OperatorPresenceEntry
		dist float64
	}
	arr := make([]pair, 0, len(g.entries))
	for _, e := range g.entries {
		dist := Haversine(origin.Lat, origin.Lon, e.Loc.Lat, e.Loc.Lon)
		if radiusKm > 0 && dist > radiusKm*1000 {
			continue
		}
		arr = append(arr, pair{e, dist})
	}
	g.mu.RUnlock()

	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.OperatorPresenceEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].e)
	}
	return out
}

// Park pulls an operator out of the candidate pool for the duration of a
// job, keeping the entry aside so Release can restore it. Reports whether
// an entry was parked.
func (g *Registry) Park(operatorID string) bool {
	g.mu.Lock()
	entry, ok := g.entries[operatorID]
	if ok {
		delete(g.entries, operatorID)
		entry.Available = false
		g.parked[operatorID] = entry
	}
	total := len(g.entries)
	g.mu.Unlock()

	observability.OperatorsAvailable.Set(float64(total))
	if !ok {
		return false
	}
	if g.mirror != nil {
		g.mirror.Remove(operatorID)
	}
	g.broadcast(models.EventOperatorUnavailable, map[string]string{"operator_id": operatorID})
	return true
}

// Release restores a parked operator to the candidate pool. A no-op when
// the operator toggled offline (or back online) while the job ran.
func (g *Registry) Release(operatorID string) bool {
	g.mu.Lock()
	entry, ok := g.parked[operatorID]
	if ok {
		delete(g.parked, operatorID)
		entry.Available = true
		entry.Updated = time.Now()
		g.entries[operatorID] = entry
	}
	total := len(g.entries)
	g.mu.Unlock()

	observability.OperatorsAvailable.Set(float64(total))
	if !ok {
		return false
	}
	if g.mirror != nil {
		g.mirror.Upsert(entry)
	}
	g.broadcast(models.EventOperatorAvailable, entry)
	return true
}

func (g *Registry) broadcast(kind models.EventKind, payload any) {
	if g.bc == nil {
		return
	}
	g.bc.Broadcast(models.RoleClient, models.NotificationEvent{
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
