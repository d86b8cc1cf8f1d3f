package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// ScheduleAdapter talks to rail and ferry timetable APIs (GET /schedules)
type ScheduleAdapter struct {
	src  httpSource
	mode models.TravelMode
}

type scheduleResponse struct {
	Data []scheduleEntry `json:"data"`
}

type scheduleEntry struct {
	ID              string  `json:"id"`
	OriginCode      string  `json:"origin_code"`
	DestinationCode string  `json:"destination_code"`
	DepartureEpoch  int64   `json:"departure_epoch"`
	DurationMinutes int     `json:"duration_minutes"`
	PriceCents      int64   `json:"price_cents"` // already minor units
	Currency        string  `json:"currency"`
	Capacity        int     `json:"capacity"`
	Remaining       int     `json:"remaining"`
	Score           float64 `json:"score"` // 0-10
	Class           string  `json:"class,omitempty"`
}

// NewScheduleAdapter creates a train or ferry provider adapter
func NewScheduleAdapter(name string, mode models.TravelMode, baseURL, apiKey string, client *http.Client) *ScheduleAdapter {
	return &ScheduleAdapter{src: newHTTPSource(name, baseURL, apiKey, client), mode: mode}
}

func (a *ScheduleAdapter) Name() string            { return a.src.name }
func (a *ScheduleAdapter) Mode() models.TravelMode { return a.mode }

func (a *ScheduleAdapter) Search(ctx context.Context, q Query) ([]models.Trip, error) {
	params := url.Values{}
	if q.Origin != "" {
		params.Set("origin", q.Origin)
	}
	if q.Destination != "" {
		params.Set("destination", q.Destination)
	}
	if !q.Date.IsZero() {
		params.Set("date", q.Date.Format("2006-01-02"))
	}

	req, err := http.NewRequest(http.MethodGet, a.src.baseURL+"/schedules?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var resp scheduleResponse
	if err := a.src.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	trips := make([]models.Trip, 0, len(resp.Data))
	for _, entry := range resp.Data {
		departs := time.Unix(entry.DepartureEpoch, 0).UTC()
		trip := models.Trip{
			ID:             TripID(a.src.name, entry.ID),
			ProviderID:     a.src.name,
			Mode:           a.mode,
			Origin:         entry.OriginCode,
			Destination:    entry.DestinationCode,
			DepartureTime:  departs,
			ArrivalTime:    departs.Add(time.Duration(entry.DurationMinutes) * time.Minute),
			PriceMinor:     entry.PriceCents,
			Currency:       entry.Currency,
			TotalSeats:     entry.Capacity,
			AvailableSeats: entry.Remaining,
			Rating:         entry.Score / 2, // normalise to 0-5
		}
		if entry.Class != "" {
			trip.Attributes = models.JSONB{"class": entry.Class}
		}
		if matches(q, trip) {
			trips = append(trips, trip)
		}
	}
	return trips, nil
}
