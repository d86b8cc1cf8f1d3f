package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
)

const (
	tripPrefix   = "trip:"
	searchPrefix = "search:"
)

// TripCache remembers trips shown in search results so a booking can be made
// by trip id alone, and caches provider results per route and date.
// Lookups that miss return nil without an error.
type TripCache interface {
	PutTrips(ctx context.Context, trips []models.Trip) error
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)
	GetSearch(ctx context.Context, key string) ([]models.Trip, error)
	PutSearch(ctx context.Context, key string, trips []models.Trip) error
}

// ============================================================================
// REDIS
// ============================================================================

// RedisTripCache stores JSON trip snapshots in redis
type RedisTripCache struct {
	client    *redis.Client
	tripTTL   time.Duration
	searchTTL time.Duration
}

// NewRedisTripCache creates a redis-backed trip cache. searchTTL <= 0 disables search caching.
func NewRedisTripCache(client *redis.Client, tripTTL, searchTTL time.Duration) *RedisTripCache {
	return &RedisTripCache{client: client, tripTTL: tripTTL, searchTTL: searchTTL}
}

func (c *RedisTripCache) PutTrips(ctx context.Context, trips []models.Trip) error {
	if len(trips) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, trip := range trips {
		data, err := json.Marshal(trip)
		if err != nil {
			return fmt.Errorf("failed to encode trip %s: %w", trip.ID, err)
		}
		pipe.Set(ctx, tripPrefix+trip.ID, data, c.tripTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache trips: %w", err)
	}
	return nil
}

func (c *RedisTripCache) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	data, err := c.client.Get(ctx, tripPrefix+tripID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trip %s: %w", tripID, err)
	}
	var trip models.Trip
	if err := json.Unmarshal(data, &trip); err != nil {
		return nil, fmt.Errorf("failed to decode trip %s: %w", tripID, err)
	}
	return &trip, nil
}

func (c *RedisTripCache) GetSearch(ctx context.Context, key string) ([]models.Trip, error) {
	if c.searchTTL <= 0 {
		return nil, nil
	}
	data, err := c.client.Get(ctx, searchPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read search cache: %w", err)
	}
	var trips []models.Trip
	if err := json.Unmarshal(data, &trips); err != nil {
		return nil, fmt.Errorf("failed to decode search cache: %w", err)
	}
	return trips, nil
}

func (c *RedisTripCache) PutSearch(ctx context.Context, key string, trips []models.Trip) error {
	if c.searchTTL <= 0 {
		return nil
	}
	data, err := json.Marshal(trips)
	if err != nil {
		return fmt.Errorf("failed to encode search cache: %w", err)
	}
	return c.client.Set(ctx, searchPrefix+key, data, c.searchTTL).Err()
}

// ============================================================================
// IN-MEMORY
// ============================================================================

type memoryEntry struct {
	trips   []models.Trip
	expires time.Time
}

// MemoryTripCache is the single-instance fallback when redis is not configured
type MemoryTripCache struct {
	mu        sync.RWMutex
	clock     utils.Clock
	tripTTL   time.Duration
	searchTTL time.Duration
	trips     map[string]memoryEntry
	searches  map[string]memoryEntry
}

// NewMemoryTripCache creates an in-process trip cache
func NewMemoryTripCache(clock utils.Clock, tripTTL, searchTTL time.Duration) *MemoryTripCache {
	return &MemoryTripCache{
		clock:     clock,
		tripTTL:   tripTTL,
		searchTTL: searchTTL,
		trips:     make(map[string]memoryEntry),
		searches:  make(map[string]memoryEntry),
	}
}

func (c *MemoryTripCache) PutTrips(_ context.Context, trips []models.Trip) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.clock.Now().Add(c.tripTTL)
	for _, trip := range trips {
		c.trips[trip.ID] = memoryEntry{trips: []models.Trip{trip}, expires: expires}
	}
	c.evictLocked()
	return nil
}

func (c *MemoryTripCache) GetTrip(_ context.Context, tripID string) (*models.Trip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.trips[tripID]
	if !ok || c.clock.Now().After(entry.expires) {
		return nil, nil
	}
	trip := entry.trips[0]
	return &trip, nil
}

func (c *MemoryTripCache) GetSearch(_ context.Context, key string) ([]models.Trip, error) {
	if c.searchTTL <= 0 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.searches[key]
	if !ok || c.clock.Now().After(entry.expires) {
		return nil, nil
	}
	return append([]models.Trip(nil), entry.trips...), nil
}

func (c *MemoryTripCache) PutSearch(_ context.Context, key string, trips []models.Trip) error {
	if c.searchTTL <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches[key] = memoryEntry{
		trips:   append([]models.Trip(nil), trips...),
		expires: c.clock.Now().Add(c.searchTTL),
	}
	return nil
}

// evictLocked drops expired entries; callers hold mu
func (c *MemoryTripCache) evictLocked() {
	now := c.clock.Now()
	for id, entry := range c.trips {
		if now.After(entry.expires) {
			delete(c.trips, id)
		}
	}
	for key, entry := range c.searches {
		if now.After(entry.expires) {
			delete(c.searches, key)
		}
	}
}
