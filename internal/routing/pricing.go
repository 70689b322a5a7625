package routing

import (
	"math"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// Pricing is the fare policy: base fare plus a per-km rate, both external
// configuration. Invoked once at request creation and never recomputed.
type Pricing struct {
	BaseFare  int64
	PerKmRate int64
	// Commission is the share withheld from the operator-facing amount,
	// 0..1.
	Commission float64
}

// Quote prices a route. The requester-facing amount is base + distance*rate;
// the operator-facing amount is the same minus commission.
func (p Pricing) Quote(r Route) models.Quote {
	client := p.BaseFare + int64(math.Round(r.DistanceKm*float64(p.PerKmRate)))
	operator := int64(math.Round(float64(client) * (1 - p.Commission)))
	return models.Quote{
		DistanceKm:     r.DistanceKm,
		DurationMin:    r.DurationMin,
		Polyline:       r.Polyline,
		ClientAmount:   client,
		OperatorAmount: operator,
	}
}
