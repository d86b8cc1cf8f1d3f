package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/cache"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/providers"
	"golang.org/x/sync/errgroup"
)

// SearchAggregatorConfig holds fan-out settings
type SearchAggregatorConfig struct {
	AdapterTimeout  time.Duration // budget per provider, retries included
	AdapterAttempts int
	RetryInitial    time.Duration
}

// SearchAggregator fans a search out to every provider and merges the answers
type SearchAggregator struct {
	adapters []providers.Adapter
	trips    cache.TripCache
	config   SearchAggregatorConfig
	logger   *logrus.Logger
}

// NewSearchAggregator creates a new search aggregator
func NewSearchAggregator(adapters []providers.Adapter, trips cache.TripCache, config SearchAggregatorConfig, logger *logrus.Logger) *SearchAggregator {
	if config.AdapterTimeout <= 0 {
		config.AdapterTimeout = 5 * time.Second
	}
	if config.AdapterAttempts <= 0 {
		config.AdapterAttempts = 1
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = 100 * time.Millisecond
	}
	return &SearchAggregator{
		adapters: adapters,
		trips:    trips,
		config:   config,
		logger:   logger,
	}
}

// Search returns one page of merged, deduplicated and sorted trips.
// Failing providers only mark the result partial; ErrProviderUnavailable is
// returned when every provider failed.
func (s *SearchAggregator) Search(ctx context.Context, params models.SearchParams) (*models.SearchResult, error) {
	startTime := time.Now()

	adapters := s.applicable(params.Modes)
	result := &models.SearchResult{
		Status: "success",
		Trips:  []models.Trip{},
		Page:   params.Page,
		Limit:  params.Limit,
		Stats: models.SearchStats{
			ProvidersTotal: len(adapters),
			Cache:          "miss",
		},
	}

	s.logger.WithFields(logrus.Fields{
		"origin":      params.Origin,
		"destination": params.Destination,
		"date":        params.Date.Format("2006-01-02"),
		"providers":   len(adapters),
		"unfiltered":  params.Unfiltered(),
	}).Info("Processing search request")

	cacheKey := s.cacheKey(params)
	merged, err := s.trips.GetSearch(ctx, cacheKey)
	if err != nil {
		s.logger.WithError(err).Warn("Search cache read failed")
		merged = nil
	}

	if merged != nil {
		result.Stats.Cache = "hit"
		result.Stats.ProvidersSucceeded = len(adapters)
	} else {
		var failures []models.ProviderFailure
		merged, failures = s.fanOut(ctx, adapters, params)

		result.Failures = failures
		result.Stats.ProvidersFailed = len(failures)
		result.Stats.ProvidersSucceeded = len(adapters) - len(failures)

		if len(adapters) > 0 && len(failures) == len(adapters) {
			s.logger.WithField("providers", len(adapters)).Error("All travel providers failed")
			return nil, fmt.Errorf("all %d providers failed: %w", len(adapters), models.ErrProviderUnavailable)
		}

		if len(failures) > 0 {
			result.Status = "partial"
			result.Partial = true
		} else if err := s.trips.PutSearch(ctx, cacheKey, merged); err != nil {
			s.logger.WithError(err).Warn("Search cache write failed")
		}
	}

	if err := s.trips.PutTrips(ctx, merged); err != nil {
		s.logger.WithError(err).Warn("Failed to remember searched trips")
	}

	filtered := filterTrips(merged, params)
	sortTrips(filtered, params.SortBy, params.SortOrder)

	result.Total = len(filtered)
	result.Trips = paginate(filtered, params.Page, params.Limit)
	result.SearchTimeMs = time.Since(startTime).Milliseconds()

	s.logger.WithFields(logrus.Fields{
		"total":          result.Total,
		"partial":        result.Partial,
		"cache":          result.Stats.Cache,
		"search_time_ms": result.SearchTimeMs,
	}).Info("Search completed")

	return result, nil
}

// applicable narrows the adapters to the requested modes
func (s *SearchAggregator) applicable(modes []models.TravelMode) []providers.Adapter {
	if len(modes) == 0 {
		return s.adapters
	}
	wanted := make(map[models.TravelMode]bool, len(modes))
	for _, m := range modes {
		wanted[m] = true
	}
	var out []providers.Adapter
	for _, a := range s.adapters {
		if wanted[a.Mode()] {
			out = append(out, a)
		}
	}
	return out
}

func (s *SearchAggregator) cacheKey(params models.SearchParams) string {
	if len(params.Modes) == 0 {
		return params.CacheKey() + "|all"
	}
	modes := make([]string, 0, len(params.Modes))
	for _, m := range params.Modes {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	return params.CacheKey() + "|" + strings.Join(modes, ",")
}

// fanOut queries every adapter concurrently and merges successes in adapter order
func (s *SearchAggregator) fanOut(ctx context.Context, adapters []providers.Adapter, params models.SearchParams) ([]models.Trip, []models.ProviderFailure) {
	query := providers.Query{Origin: params.Origin, Destination: params.Destination, Date: params.Date}
	results := make([][]models.Trip, len(adapters))
	errs := make([]error, len(adapters))

	var g errgroup.Group
	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			adapterCtx, cancel := context.WithTimeout(ctx, s.config.AdapterTimeout)
			defer cancel()

			errs[i] = retryTransient(adapterCtx, s.config.AdapterAttempts, s.config.RetryInitial, func(ctx context.Context) error {
				trips, err := adapter.Search(ctx, query)
				if err != nil {
					return err
				}
				results[i] = trips
				return nil
			})
			// a provider failure never aborts the other searches
			return nil
		})
	}
	g.Wait()

	var merged []models.Trip
	var failures []models.ProviderFailure
	seen := make(map[string]bool)
	for i, adapter := range adapters {
		if errs[i] != nil {
			failure := models.ProviderFailure{
				Provider: adapter.Name(),
				Reason:   errs[i].Error(),
				TimedOut: errors.Is(errs[i], context.DeadlineExceeded),
			}
			failures = append(failures, failure)
			s.logger.WithError(errs[i]).WithFields(logrus.Fields{
				"provider":  adapter.Name(),
				"timed_out": failure.TimedOut,
			}).Warn("Travel provider failed")
			continue
		}
		for _, trip := range results[i] {
			key := trip.DedupKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, trip)
		}
	}
	if merged == nil {
		merged = []models.Trip{}
	}
	return merged, failures
}

// filterTrips re-applies every filter locally, whatever the provider already did
func filterTrips(trips []models.Trip, params models.SearchParams) []models.Trip {
	modes := make(map[models.TravelMode]bool, len(params.Modes))
	for _, m := range params.Modes {
		modes[m] = true
	}

	out := make([]models.Trip, 0, len(trips))
	for _, t := range trips {
		if params.Origin != "" && !strings.EqualFold(t.Origin, params.Origin) {
			continue
		}
		if params.Destination != "" && !strings.EqualFold(t.Destination, params.Destination) {
			continue
		}
		if !params.Date.IsZero() && !sameDay(t.DepartureTime, params.Date) {
			continue
		}
		if params.MinPrice != nil && t.PriceMinor < *params.MinPrice {
			continue
		}
		if params.MaxPrice != nil && t.PriceMinor > *params.MaxPrice {
			continue
		}
		if len(modes) > 0 && !modes[t.Mode] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// sortTrips orders by key in the given direction; ties always break on ascending id
func sortTrips(trips []models.Trip, key models.SortKey, order models.SortOrder) {
	compare := func(a, b models.Trip) int {
		switch key {
		case models.SortByDepartureTime:
			return compareTime(a.DepartureTime, b.DepartureTime)
		case models.SortByDuration:
			return compareInt64(int64(a.Duration()), int64(b.Duration()))
		case models.SortByRating:
			return compareFloat(a.Rating, b.Rating)
		default:
			return compareInt64(a.PriceMinor, b.PriceMinor)
		}
	}

	sort.SliceStable(trips, func(i, j int) bool {
		c := compare(trips[i], trips[j])
		if order == models.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return trips[i].ID < trips[j].ID
	})
}

func paginate(trips []models.Trip, page, limit int) []models.Trip {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	start := (page - 1) * limit
	if start >= len(trips) {
		return []models.Trip{}
	}
	end := start + limit
	if end > len(trips) {
		end = len(trips)
	}
	return trips[start:end]
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.UTC().Date()
	y2, m2, d2 := b.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
