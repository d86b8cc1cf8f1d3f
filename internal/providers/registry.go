package providers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/models"
)

// NewRegistry builds one adapter per configured provider. With no providers
// configured outside production, the demo catalog is served instead.
func NewRegistry(cfg *config.Config, logger *logrus.Logger) ([]Adapter, error) {
	if len(cfg.Search.Providers) == 0 {
		if cfg.Server.Environment == "production" {
			return nil, fmt.Errorf("TRAVEL_PROVIDERS is required in production")
		}
		logger.Warn("No travel providers configured, serving demo catalog")
		return DemoAdapters(time.Now().UTC()), nil
	}

	// per-call deadlines come from the aggregator's context
	client := &http.Client{Timeout: 2 * cfg.Search.AdapterTimeout}

	adapters := make([]Adapter, 0, len(cfg.Search.Providers))
	seen := make(map[string]bool)
	for _, p := range cfg.Search.Providers {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate travel provider %q", p.Name)
		}
		seen[p.Name] = true

		mode := models.TravelMode(p.Mode)
		var adapter Adapter
		switch mode {
		case models.ModeBus, models.ModeShuttle:
			adapter = NewBusAdapter(p.Name, mode, p.BaseURL, p.APIKey, client)
		case models.ModeFlight:
			adapter = NewFlightAdapter(p.Name, p.BaseURL, p.APIKey, client)
		case models.ModeTrain, models.ModeFerry:
			adapter = NewScheduleAdapter(p.Name, mode, p.BaseURL, p.APIKey, client)
		default:
			return nil, fmt.Errorf("travel provider %q has unknown mode %q", p.Name, p.Mode)
		}

		logger.WithFields(logrus.Fields{
			"provider": p.Name,
			"mode":     p.Mode,
		}).Info("Travel provider registered")
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// DemoAdapters returns a small East African catalog anchored on the day of from
func DemoAdapters(from time.Time) []Adapter {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	at := func(dayOffset, hour, minute int) time.Time {
		return day.AddDate(0, 0, dayOffset).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
	}

	var bus, flight, train []models.Trip
	for d := 0; d < 7; d++ {
		bus = append(bus,
			models.Trip{ID: fmt.Sprintf("NBO-MBA-%d-0800", d), Origin: "Nairobi", Destination: "Mombasa",
				DepartureTime: at(d, 8, 0), ArrivalTime: at(d, 16, 0), PriceMinor: 150000, Currency: "KES",
				TotalSeats: 49, AvailableSeats: 49, Rating: 4.2},
			models.Trip{ID: fmt.Sprintf("KLA-NBO-%d-1900", d), Origin: "Kampala", Destination: "Nairobi",
				DepartureTime: at(d, 19, 0), ArrivalTime: at(d+1, 7, 0), PriceMinor: 90000, Currency: "UGX",
				TotalSeats: 45, AvailableSeats: 45, Rating: 3.9},
		)
		flight = append(flight, models.Trip{ID: fmt.Sprintf("KQ612-%d", d), Origin: "Nairobi", Destination: "Mombasa",
			DepartureTime: at(d, 7, 0), ArrivalTime: at(d, 8, 0), PriceMinor: 850000, Currency: "KES",
			TotalSeats: 120, AvailableSeats: 120, Rating: 4.5})
		train = append(train, models.Trip{ID: fmt.Sprintf("SGR-EXP-%d", d), Origin: "Nairobi", Destination: "Mombasa",
			DepartureTime: at(d, 8, 0), ArrivalTime: at(d, 13, 0), PriceMinor: 300000, Currency: "KES",
			TotalSeats: 200, AvailableSeats: 200, Rating: 4.6})
	}

	return []Adapter{
		NewStaticAdapter("demobus", models.ModeBus, bus),
		NewStaticAdapter("demoair", models.ModeFlight, flight),
		NewStaticAdapter("demorail", models.ModeTrain, train),
	}
}
