package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// RedisPresence mirrors presence entries into Redis GEO so other processes
// (the locations consumer, sibling API instances) share one view of the
// supply side.
type RedisPresence struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisPresence(addr, password, key string) *RedisPresence {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPresence{client: c, key: key, ctx: context.Background()}
}

// Upsert stores the position as GEOADD and the profile as a hash.
func (r *RedisPresence) Upsert(entry models.OperatorPresenceEntry) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: entry.Loc.Lon,
		Latitude:  entry.Loc.Lat,
		Name:      entry.OperatorID,
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(entry.OperatorID), map[string]interface{}{
		"name":           entry.Profile.Name,
		"vehicle":        entry.Profile.Vehicle,
		"rating":         fmt.Sprintf("%f", entry.Profile.Rating),
		"completed_jobs": strconv.Itoa(entry.Profile.CompletedJobs),
		"available":      strconv.FormatBool(entry.Available),
		"updated":        time.Now().Format(time.RFC3339),
	}).Err()
}

// Remove drops the operator from the geo set and deletes the profile hash.
func (r *RedisPresence) Remove(operatorID string) {
	_ = r.client.ZRem(r.ctx, r.key, operatorID).Err()
	_ = r.client.Del(r.ctx, metaKey(operatorID)).Err()
}

// Nearby queries the geo set within radiusKm of origin and hydrates
// profiles from the metadata hashes. Entries flagged unavailable are
// filtered out.
func (r *RedisPresence) Nearby(origin models.Coord, radiusKm float64, limit int) []models.OperatorPresenceEntry {
	res, err := r.client.GeoRadius(r.ctx, r.key, origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.OperatorPresenceEntry, 0, len(res))
	for _, g := range res {
		e := models.OperatorPresenceEntry{OperatorID: g.Name, Available: true}
		e.Loc.Lat = g.Latitude
		e.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			e.Profile.Name = m["name"]
			e.Profile.Vehicle = m["vehicle"]
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					e.Profile.Rating = f
				}
			}
			if v, ok := m["completed_jobs"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					e.Profile.CompletedJobs = n
				}
			}
			if v, ok := m["available"]; ok && v != "true" {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func metaKey(id string) string { return "operator:meta:" + id }
