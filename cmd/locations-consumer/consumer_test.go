package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexitico1989/gruapp-sub003/internal/ingest"
	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastGeo  string
	lastHash map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	f.lastGeo = key
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	f.lastHash = values
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	u := &ingest.LocationUpdate{OperatorID: "op-1", Loc: models.Coord{Lat: -33.45, Lon: -70.66}, Available: true, At: time.Now()}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "operators_geo", u, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastGeo != "operators_geo" {
		t.Fatalf("wrong geo key: %s", f.lastGeo)
	}
	if f.lastHash["available"] != "true" {
		t.Fatalf("availability not mirrored: %v", f.lastHash)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	u := &ingest.LocationUpdate{OperatorID: "op-1", Loc: models.Coord{Lat: 1, Lon: 2}}
	if err := updateRedisWithRetry(context.Background(), f, "operators_geo", u, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
