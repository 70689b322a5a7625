package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// Route is the routing oracle result.
type Route struct {
	DistanceKm  float64
	DurationMin float64
	Polyline    string
}

// Oracle resolves a route between two points.
type Oracle interface {
	Route(ctx context.Context, origin, dest models.Coord) (Route, error)
}

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Route queries OSRM /route between points, returning distance, duration
// and the overview polyline.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", models.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
			Geometry string  `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: osrm no route: %v", models.ErrExternalUnavailable, out.Code)
	}
	r := out.Routes[0]
	return Route{
		DistanceKm:  r.Distance / 1000.0,
		DurationMin: r.Duration / 60.0,
		Polyline:    r.Geometry,
	}, nil
}

// DefaultDetourFactor scales the great-circle distance when the routing
// oracle is unavailable, approximating real road detours.
const DefaultDetourFactor = 1.3

// Fallback wraps an Oracle with a great-circle approximation so request
// creation never blocks on the routing service. Inner may be nil when no
// routing endpoint is configured.
type Fallback struct {
	Inner        Oracle
	DetourFactor float64
	AvgSpeedKmh  float64
}

func (f *Fallback) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	if f.Inner != nil {
		if r, err := f.Inner.Route(ctx, origin, dest); err == nil {
			return r, nil
		}
	}
	detour := f.DetourFactor
	if detour <= 0 {
		detour = DefaultDetourFactor
	}
	speed := f.AvgSpeedKmh
	if speed <= 0 {
		speed = 35 // city average
	}
	distKm := haversine(origin.Lat, origin.Lon, dest.Lat, dest.Lon) / 1000.0 * detour
	return Route{
		DistanceKm:  distKm,
		DurationMin: distKm / speed * 60,
	}, nil
}

// local haversine to keep the oracle free of presence imports
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
