package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ============================================================================
// TRAVEL MODES
// ============================================================================

// TravelMode is the kind of transport a provider sells
type TravelMode string

const (
	ModeBus     TravelMode = "bus"
	ModeFlight  TravelMode = "flight"
	ModeTrain   TravelMode = "train"
	ModeFerry   TravelMode = "ferry"
	ModeShuttle TravelMode = "shuttle"
)

// IsValid reports whether m is a known travel mode
func (m TravelMode) IsValid() bool {
	switch m {
	case ModeBus, ModeFlight, ModeTrain, ModeFerry, ModeShuttle:
		return true
	}
	return false
}

// ============================================================================
// TRIP (canonical provider offering)
// ============================================================================

// Trip is one provider's offering for a single origin -> destination departure.
// IDs are provider-namespaced ("<provider>:<native id>"). Prices are in minor currency units.
type Trip struct {
	ID             string     `json:"id"`
	ProviderID     string     `json:"provider_id"`
	Mode           TravelMode `json:"mode"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	DepartureTime  time.Time  `json:"departure_time"`
	ArrivalTime    time.Time  `json:"arrival_time"`
	PriceMinor     int64      `json:"price_minor"`
	Currency       string     `json:"currency"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"` // advisory only, never gates a booking
	Rating         float64    `json:"rating"`
	Attributes     JSONB      `json:"attributes,omitempty"`
}

// Duration is the scheduled travel time
func (t Trip) Duration() time.Duration {
	return t.ArrivalTime.Sub(t.DepartureTime)
}

// DedupKey identifies a trip across providers
func (t Trip) DedupKey() string {
	return t.ProviderID + "|" + t.ID
}

// Value stores the trip as a JSONB snapshot
func (t Trip) Value() (driver.Value, error) {
	bytes, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan reads a JSONB trip snapshot
func (t *Trip) Scan(value interface{}) error {
	if value == nil {
		*t = Trip{}
		return nil
	}
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, t)
}
