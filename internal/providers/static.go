package providers

import (
	"context"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// StaticAdapter serves a fixed catalog. It backs local development and tests;
// Delay and Err let a test simulate a slow or broken provider.
type StaticAdapter struct {
	name  string
	mode  models.TravelMode
	trips []models.Trip
	Delay time.Duration
	Err   error
}

// NewStaticAdapter creates an adapter that returns trips matching each query.
// Trip ids are namespaced and ProviderID/Mode are filled in.
func NewStaticAdapter(name string, mode models.TravelMode, trips []models.Trip) *StaticAdapter {
	normalised := make([]models.Trip, 0, len(trips))
	for _, t := range trips {
		t.ProviderID = name
		t.Mode = mode
		if ProviderOf(t.ID) != name {
			t.ID = TripID(name, t.ID)
		}
		normalised = append(normalised, t)
	}
	return &StaticAdapter{name: name, mode: mode, trips: normalised}
}

func (a *StaticAdapter) Name() string            { return a.name }
func (a *StaticAdapter) Mode() models.TravelMode { return a.mode }

func (a *StaticAdapter) Search(ctx context.Context, q Query) ([]models.Trip, error) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return nil, transient(a.name, "request timed out: %w", ctx.Err())
		}
	}
	if a.Err != nil {
		return nil, a.Err
	}

	var out []models.Trip
	for _, t := range a.trips {
		if matches(q, t) {
			out = append(out, t)
		}
	}
	return out, nil
}
