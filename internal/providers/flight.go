package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// FlightAdapter talks to airline offer APIs (POST /offers/search)
type FlightAdapter struct {
	src httpSource
}

type flightSearchRequest struct {
	Origin        string `json:"origin,omitempty"`
	Destination   string `json:"destination,omitempty"`
	DepartureDate string `json:"departure_date,omitempty"`
}

type flightOffersResponse struct {
	Offers []flightOffer `json:"offers"`
}

type flightOffer struct {
	OfferID        string          `json:"offer_id"`
	Segments       []flightSegment `json:"segments"`
	TotalAmount    string          `json:"total_amount"` // decimal string, major units
	TotalCurrency  string          `json:"total_currency"`
	CabinCapacity  int             `json:"cabin_capacity"`
	SeatsAvailable int             `json:"seats_available"`
	Rating         float64         `json:"rating"`
	CabinClass     string          `json:"cabin_class,omitempty"`
}

type flightSegment struct {
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Departure    string `json:"departure"` // RFC3339
	Arrival      string `json:"arrival"`
	FlightNumber string `json:"flight_number"`
}

// NewFlightAdapter creates a flight provider adapter
func NewFlightAdapter(name, baseURL, apiKey string, client *http.Client) *FlightAdapter {
	return &FlightAdapter{src: newHTTPSource(name, baseURL, apiKey, client)}
}

func (a *FlightAdapter) Name() string            { return a.src.name }
func (a *FlightAdapter) Mode() models.TravelMode { return models.ModeFlight }

func (a *FlightAdapter) Search(ctx context.Context, q Query) ([]models.Trip, error) {
	body := flightSearchRequest{Origin: q.Origin, Destination: q.Destination}
	if !q.Date.IsZero() {
		body.DepartureDate = q.Date.Format("2006-01-02")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.src.baseURL+"/offers/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp flightOffersResponse
	if err := a.src.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	trips := make([]models.Trip, 0, len(resp.Offers))
	for _, offer := range resp.Offers {
		trip, ok := a.toTrip(offer)
		if ok && matches(q, trip) {
			trips = append(trips, trip)
		}
	}
	return trips, nil
}

// toTrip flattens a multi-segment offer into one origin -> destination trip
func (a *FlightAdapter) toTrip(offer flightOffer) (models.Trip, bool) {
	if len(offer.Segments) == 0 {
		return models.Trip{}, false
	}
	first, last := offer.Segments[0], offer.Segments[len(offer.Segments)-1]

	departs, err := time.Parse(time.RFC3339, first.Departure)
	if err != nil {
		return models.Trip{}, false
	}
	arrives, err := time.Parse(time.RFC3339, last.Arrival)
	if err != nil {
		return models.Trip{}, false
	}
	amount, err := strconv.ParseFloat(offer.TotalAmount, 64)
	if err != nil {
		return models.Trip{}, false
	}

	flights := make([]string, 0, len(offer.Segments))
	for _, seg := range offer.Segments {
		flights = append(flights, seg.FlightNumber)
	}

	return models.Trip{
		ID:             TripID(a.src.name, offer.OfferID),
		ProviderID:     a.src.name,
		Mode:           models.ModeFlight,
		Origin:         first.Origin,
		Destination:    last.Destination,
		DepartureTime:  departs.UTC(),
		ArrivalTime:    arrives.UTC(),
		PriceMinor:     ToMinorUnits(amount, offer.TotalCurrency),
		Currency:       offer.TotalCurrency,
		TotalSeats:     offer.CabinCapacity,
		AvailableSeats: offer.SeatsAvailable,
		Rating:         offer.Rating,
		Attributes: models.JSONB{
			"cabin_class": offer.CabinClass,
			"flights":     flights,
			"stops":       len(offer.Segments) - 1,
		},
	}, true
}
