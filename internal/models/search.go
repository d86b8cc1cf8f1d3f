package models

import (
	"strings"
	"time"
)

// SortKey selects the primary ordering of search results
type SortKey string

const (
	SortByPrice         SortKey = "price"
	SortByDepartureTime SortKey = "departure_time"
	SortByDuration      SortKey = "duration"
	SortByRating        SortKey = "rating"
)

// SortOrder is asc or desc
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	searchDateLayout   = "2006-01-02"
)

// SearchRequest is the inbound search body. Every field is optional;
// a missing origin or destination means an unfiltered search.
type SearchRequest struct {
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Date        string       `json:"date,omitempty"` // "2024-06-01"
	Modes       []TravelMode `json:"modes,omitempty"`
	MinPrice    *int64       `json:"min_price,omitempty"` // minor units
	MaxPrice    *int64       `json:"max_price,omitempty"`
	SortBy      SortKey      `json:"sort_by,omitempty"`
	SortOrder   SortOrder    `json:"sort_order,omitempty"`
	Page        int          `json:"page,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}

// SearchParams is a validated, normalised search
type SearchParams struct {
	Origin      string
	Destination string
	Date        time.Time // zero means any date
	Modes       []TravelMode
	MinPrice    *int64
	MaxPrice    *int64
	SortBy      SortKey
	SortOrder   SortOrder
	Page        int
	Limit       int
}

// ToParams validates the request and fills defaults
func (r *SearchRequest) ToParams() (SearchParams, error) {
	p := SearchParams{
		Origin:      strings.TrimSpace(r.Origin),
		Destination: strings.TrimSpace(r.Destination),
		Modes:       r.Modes,
		MinPrice:    r.MinPrice,
		MaxPrice:    r.MaxPrice,
		SortBy:      r.SortBy,
		SortOrder:   r.SortOrder,
		Page:        r.Page,
		Limit:       r.Limit,
	}

	if r.Date != "" {
		date, err := time.Parse(searchDateLayout, r.Date)
		if err != nil {
			return p, NewValidationError("date", "must be formatted as YYYY-MM-DD")
		}
		p.Date = date
	}

	for _, m := range r.Modes {
		if !m.IsValid() {
			return p, NewValidationError("modes", "unknown travel mode "+string(m))
		}
	}

	if p.MinPrice != nil && *p.MinPrice < 0 {
		return p, NewValidationError("min_price", "must not be negative")
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return p, NewValidationError("max_price", "must be greater than or equal to min_price")
	}

	switch p.SortBy {
	case "":
		p.SortBy = SortByPrice
	case SortByPrice, SortByDepartureTime, SortByDuration, SortByRating:
	default:
		return p, NewValidationError("sort_by", "must be one of price, departure_time, duration, rating")
	}

	switch p.SortOrder {
	case "":
		p.SortOrder = SortAsc
	case SortAsc, SortDesc:
	default:
		return p, NewValidationError("sort_order", "must be asc or desc")
	}

	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultSearchLimit
	}
	if p.Limit > MaxSearchLimit {
		p.Limit = MaxSearchLimit
	}

	return p, nil
}

// Unfiltered reports whether the search has no route filter
func (p SearchParams) Unfiltered() bool {
	return p.Origin == "" || p.Destination == ""
}

// CacheKey identifies the provider query portion of a search (route and date only)
func (p SearchParams) CacheKey() string {
	date := "any"
	if !p.Date.IsZero() {
		date = p.Date.Format(searchDateLayout)
	}
	return strings.ToLower(p.Origin) + "|" + strings.ToLower(p.Destination) + "|" + date
}

// ProviderFailure records one adapter that contributed no results
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	TimedOut bool   `json:"timed_out"`
}

// SearchStats summarises the fan-out
type SearchStats struct {
	ProvidersTotal     int    `json:"providers_total"`
	ProvidersSucceeded int    `json:"providers_succeeded"`
	ProvidersFailed    int    `json:"providers_failed"`
	Cache              string `json:"cache"` // "hit", "miss", "disabled"
}

// SearchResult is one page of merged results
type SearchResult struct {
	Status       string            `json:"status"` // "success" or "partial"
	Partial      bool              `json:"partial"`
	Trips        []Trip            `json:"trips"`
	Total        int               `json:"total"`
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
	Failures     []ProviderFailure `json:"failures,omitempty"`
	Stats        SearchStats       `json:"stats"`
	SearchTimeMs int64             `json:"search_time_ms"`
}
