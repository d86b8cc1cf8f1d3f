package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// BusAdapter talks to coach operators exposing GET /trips
type BusAdapter struct {
	src  httpSource
	mode models.TravelMode
}

type busTripsResponse struct {
	Trips []busTrip `json:"trips"`
}

type busTrip struct {
	TripID         string   `json:"trip_id"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	DepartsAt      string   `json:"departs_at"` // RFC3339
	ArrivesAt      string   `json:"arrives_at"`
	Fare           float64  `json:"fare"` // major units
	Currency       string   `json:"currency"`
	SeatsTotal     int      `json:"seats_total"`
	SeatsLeft      int      `json:"seats_left"`
	OperatorRating float64  `json:"operator_rating"`
	BusType        string   `json:"bus_type,omitempty"`
	Amenities      []string `json:"amenities,omitempty"`
}

// NewBusAdapter creates a bus (or shuttle) provider adapter
func NewBusAdapter(name string, mode models.TravelMode, baseURL, apiKey string, client *http.Client) *BusAdapter {
	return &BusAdapter{src: newHTTPSource(name, baseURL, apiKey, client), mode: mode}
}

func (a *BusAdapter) Name() string            { return a.src.name }
func (a *BusAdapter) Mode() models.TravelMode { return a.mode }

func (a *BusAdapter) Search(ctx context.Context, q Query) ([]models.Trip, error) {
	params := url.Values{}
	if q.Origin != "" {
		params.Set("from", q.Origin)
	}
	if q.Destination != "" {
		params.Set("to", q.Destination)
	}
	if !q.Date.IsZero() {
		params.Set("date", q.Date.Format("2006-01-02"))
	}

	req, err := http.NewRequest(http.MethodGet, a.src.baseURL+"/trips?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var resp busTripsResponse
	if err := a.src.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	trips := make([]models.Trip, 0, len(resp.Trips))
	for _, native := range resp.Trips {
		departs, err := time.Parse(time.RFC3339, native.DepartsAt)
		if err != nil {
			continue
		}
		arrives, err := time.Parse(time.RFC3339, native.ArrivesAt)
		if err != nil {
			continue
		}
		trip := models.Trip{
			ID:             TripID(a.src.name, native.TripID),
			ProviderID:     a.src.name,
			Mode:           a.mode,
			Origin:         native.From,
			Destination:    native.To,
			DepartureTime:  departs.UTC(),
			ArrivalTime:    arrives.UTC(),
			PriceMinor:     ToMinorUnits(native.Fare, native.Currency),
			Currency:       native.Currency,
			TotalSeats:     native.SeatsTotal,
			AvailableSeats: native.SeatsLeft,
			Rating:         native.OperatorRating,
		}
		if native.BusType != "" || len(native.Amenities) > 0 {
			trip.Attributes = models.JSONB{"bus_type": native.BusType, "amenities": native.Amenities}
		}
		if matches(q, trip) {
			trips = append(trips, trip)
		}
	}
	return trips, nil
}
