package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var searchDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestBusAdapter_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trips", r.URL.Path)
		assert.Equal(t, "Nairobi", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("date"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"trips":[
			{"trip_id":"T1","from":"Nairobi","to":"Mombasa","departs_at":"2024-06-01T08:00:00+03:00",
			 "arrives_at":"2024-06-01T16:00:00+03:00","fare":1500.50,"currency":"KES",
			 "seats_total":49,"seats_left":12,"operator_rating":4.1},
			{"trip_id":"T2","from":"Nairobi","to":"Kisumu","departs_at":"2024-06-01T09:00:00+03:00",
			 "arrives_at":"2024-06-01T15:00:00+03:00","fare":1200,"currency":"KES",
			 "seats_total":49,"seats_left":40,"operator_rating":3.8}
		]}`))
	}))
	defer server.Close()

	adapter := NewBusAdapter("busco", models.ModeBus, server.URL, "secret", nil)
	trips, err := adapter.Search(context.Background(), Query{Origin: "Nairobi", Destination: "Mombasa", Date: searchDate})
	require.NoError(t, err)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, "busco:T1", trip.ID)
	assert.Equal(t, "busco", trip.ProviderID)
	assert.Equal(t, int64(150050), trip.PriceMinor)
	assert.Equal(t, 8*time.Hour, trip.Duration())
	assert.Equal(t, time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC), trip.DepartureTime)
}

func TestFlightAdapter_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body flightSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-06-01", body.DepartureDate)

		w.Write([]byte(`{"offers":[{"offer_id":"OF1","total_amount":"8500.00","total_currency":"KES",
			"cabin_capacity":120,"seats_available":30,"rating":4.5,
			"segments":[{"origin":"Nairobi","destination":"Mombasa","departure":"2024-06-01T07:00:00Z",
			"arrival":"2024-06-01T08:00:00Z","flight_number":"KQ612"}]}]}`))
	}))
	defer server.Close()

	adapter := NewFlightAdapter("skyair", server.URL, "", nil)
	trips, err := adapter.Search(context.Background(), Query{Origin: "Nairobi", Destination: "Mombasa", Date: searchDate})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "skyair:OF1", trips[0].ID)
	assert.Equal(t, int64(850000), trips[0].PriceMinor)
	assert.Equal(t, models.ModeFlight, trips[0].Mode)
}

func TestScheduleAdapter_Search(t *testing.T) {
	departs := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{
				"id": "SGR1", "origin_code": "Nairobi", "destination_code": "Mombasa",
				"departure_epoch": departs.Unix(), "duration_minutes": 300,
				"price_cents": 300000, "currency": "KES", "capacity": 200, "remaining": 80, "score": 9.0,
			}},
		})
	}))
	defer server.Close()

	adapter := NewScheduleAdapter("rail", models.ModeTrain, server.URL, "", nil)
	trips, err := adapter.Search(context.Background(), Query{Origin: "nairobi", Destination: "mombasa", Date: searchDate})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, 5*time.Hour, trips[0].Duration())
	assert.Equal(t, 4.5, trips[0].Rating)
}

func TestHTTPAdapter_ErrorClassification(t *testing.T) {
	t.Run("5xx is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := NewBusAdapter("busco", models.ModeBus, server.URL, "", nil).Search(context.Background(), Query{})
		assert.True(t, models.IsTransientProviderError(err))
	})

	t.Run("4xx is permanent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := NewBusAdapter("busco", models.ModeBus, server.URL, "", nil).Search(context.Background(), Query{})
		require.Error(t, err)
		assert.False(t, models.IsTransientProviderError(err))
	})

	t.Run("deadline is a transient timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewBusAdapter("busco", models.ModeBus, server.URL, "", nil).Search(ctx, Query{})
		assert.True(t, models.IsTransientProviderError(err))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestStaticAdapter(t *testing.T) {
	adapters := DemoAdapters(searchDate)
	require.Len(t, adapters, 3)

	trips, err := adapters[0].Search(context.Background(), Query{Origin: "Nairobi", Destination: "Mombasa", Date: searchDate})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "demobus", ProviderOf(trips[0].ID))

	slow := NewStaticAdapter("slow", models.ModeBus, nil)
	slow.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Search(ctx, Query{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(150050), ToMinorUnits(1500.50, "KES"))
	assert.Equal(t, int64(90000), ToMinorUnits(90000, "UGX"))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99, "usd"))
}
