// Package providers adapts third-party travel inventory APIs to the engine's Trip model.
package providers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// Query is what every provider is asked. Empty fields mean "any".
type Query struct {
	Origin      string
	Destination string
	Date        time.Time
}

// Adapter searches one provider. Returned trips carry namespaced ids
// ("<provider>:<native id>") and prices in minor units.
// Timeouts and 5xx responses come back as *models.TransientProviderError.
type Adapter interface {
	Name() string
	Mode() models.TravelMode
	Search(ctx context.Context, q Query) ([]models.Trip, error)
}

// TripID namespaces a provider's native id
func TripID(provider, nativeID string) string {
	return provider + ":" + nativeID
}

// ProviderOf returns the provider prefix of a namespaced trip id
func ProviderOf(tripID string) string {
	if i := strings.IndexByte(tripID, ':'); i > 0 {
		return tripID[:i]
	}
	return ""
}

// ToMinorUnits converts a major-unit amount to minor units for currency
func ToMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * math.Pow10(models.CurrencyExponent(currency))))
}

// matches applies the query filter to a trip. Providers that filter server side
// still pass through it so a sloppy upstream cannot leak other routes.
func matches(q Query, trip models.Trip) bool {
	if q.Origin != "" && !strings.EqualFold(q.Origin, trip.Origin) {
		return false
	}
	if q.Destination != "" && !strings.EqualFold(q.Destination, trip.Destination) {
		return false
	}
	if !q.Date.IsZero() {
		y1, m1, d1 := q.Date.Date()
		y2, m2, d2 := trip.DepartureTime.UTC().Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			return false
		}
	}
	return true
}

func transient(provider string, format string, args ...interface{}) error {
	return &models.TransientProviderError{Provider: provider, Err: fmt.Errorf(format, args...)}
}
