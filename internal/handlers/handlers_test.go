package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/cache"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/database/memory"
	"github.com/smarttransit/booking-engine/internal/gateway"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/providers"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/internal/utils"
	"github.com/smarttransit/booking-engine/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "mm-webhook-secret"

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// directQueue applies callbacks synchronously so tests can assert right after the webhook
type directQueue struct {
	payments *services.PaymentOrchestrator
	fail     bool
}

func (q *directQueue) Enqueue(ctx context.Context, msg models.CallbackMessage) error {
	if q.fail {
		return assert.AnError
	}
	_, err := q.payments.HandleCallback(ctx, msg)
	return err
}

type testServer struct {
	router *gin.Engine
	clock  *utils.ManualClock
	queue  *directQueue
	jwt    *jwt.Service
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := utils.NewManualClock(epoch)
	locker := utils.NewKeyedMutex()

	inventory := services.NewSeatInventoryService(memory.NewInventoryStore(), locker, clock,
		services.DefaultSeatInventoryConfig(), logger)
	bookings := services.NewBookingService(memory.NewBookingStore(), inventory, locker, clock, nil, nil,
		services.BookingConfig{MaxSeatsPerBooking: 10}, logger)

	departs := epoch.Add(24 * time.Hour)
	busco := providers.NewStaticAdapter("busco", models.ModeBus, []models.Trip{{
		ID:             "T1",
		Origin:         "Nairobi",
		Destination:    "Mombasa",
		DepartureTime:  departs,
		ArrivalTime:    departs.Add(8 * time.Hour),
		PriceMinor:     150000,
		Currency:       "KES",
		TotalSeats:     49,
		AvailableSeats: 49,
	}})
	trips := cache.NewMemoryTripCache(clock, 30*time.Minute, 0)
	aggregator := services.NewSearchAggregator([]providers.Adapter{busco}, trips,
		services.SearchAggregatorConfig{AdapterTimeout: time.Second}, logger)

	registry := gateway.NewRegistry(
		gateway.NewMobileMoneyAdapter(&config.MobileMoneyConfig{WebhookSecret: webhookSecret}, logger),
	)
	payments := services.NewPaymentOrchestrator(memory.NewPaymentAttemptStore(), memory.NewPaymentEventStore(),
		bookings, inventory, registry, locker, clock, nil, services.DefaultPaymentOrchestratorConfig(), logger)
	expiration := services.NewExpirationService(inventory, bookings, payments, logger)

	queue := &directQueue{payments: payments}
	jwtService := jwt.NewService("handler-test-secret", "smarttransit", time.Hour)

	router := gin.New()
	RegisterRoutes(router, Handlers{
		Search:  NewSearchHandler(aggregator, logger),
		Booking: NewBookingHandler(bookings, payments, services.NewTicketService(bookings, logger), trips, logger),
		Webhook: NewWebhookHandler(registry, queue, logger),
		Admin:   NewAdminHandler(inventory, payments, expiration, logger),
		Health:  NewHealthHandler(nil, "memory", "test", logger),
	}, jwtService)

	return &testServer{router: router, clock: clock, queue: queue, jwt: jwtService}
}

func (s *testServer) do(method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		default:
			data, _ := json.Marshal(b)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) searchAndBook(t *testing.T, seats int) models.Booking {
	t.Helper()
	w := s.do("POST", "/api/v1/search", gin.H{"origin": "Nairobi", "destination": "Mombasa"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.SearchResult](t, w)
	require.Len(t, result.Trips, 1)

	w = s.do("POST", "/api/v1/bookings", gin.H{
		"trip_id":       result.Trips[0].ID,
		"seat_count":    seats,
		"passengers":    []gin.H{{"full_name": "Amina Njeri"}},
		"contact_phone": "+254712345678",
	}, http.Header{"User-Agent": {"okhttp/4.9.0"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Booking](t, w)
}

func signedCallback(t *testing.T, payload gin.H) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body, http.Header{gateway.SignatureHeader: {gateway.SignHMAC(webhookSecret, body)}}
}

func TestBookingPaymentFlow(t *testing.T) {
	s := setupServer(t)

	booking := s.searchAndBook(t, 2)
	assert.Equal(t, models.BookingAwaitingPayment, booking.Status)
	assert.Equal(t, int64(300000), booking.AmountMinor)
	assert.Equal(t, utils.PlatformAndroid, booking.ClientPlatform)
	assert.Nil(t, booking.UserID)

	w := s.do("POST", "/api/v1/bookings/"+booking.ID+"/pay", gin.H{"method": "mpesa", "payer_reference": "0712345678"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	initiation := decode[models.PaymentInitiation](t, w)
	require.NotNil(t, initiation.Attempt)
	require.NotNil(t, initiation.Attempt.ExternalReference)
	assert.Equal(t, models.AttemptPendingConfirmation, initiation.Attempt.Status)
	assert.Contains(t, initiation.Instructions, "M-Pesa")

	body, header := signedCallback(t, gin.H{
		"transaction_id": *initiation.Attempt.ExternalReference,
		"status":         "SUCCESS",
		"amount":         300000,
	})
	w = s.do("POST", "/api/v1/webhooks/payments/mpesa", body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// a redelivered webhook is accepted again and changes nothing
	w = s.do("POST", "/api/v1/webhooks/payments/mpesa", body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do("GET", "/api/v1/bookings/"+booking.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BookingConfirmed, decode[models.Booking](t, w).Status)

	w = s.do("GET", "/api/v1/bookings/"+booking.ID+"/payments", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	attempts := decode[struct {
		Attempts []models.PaymentAttempt `json:"attempts"`
	}](t, w)
	require.Len(t, attempts.Attempts, 1)
	assert.Equal(t, models.AttemptSucceeded, attempts.Attempts[0].Status)

	w = s.do("GET", "/api/v1/bookings/"+booking.ID+"/ticket", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	// confirmed bookings cannot be cancelled
	w = s.do("POST", "/api/v1/bookings/"+booking.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateBooking_SignedInUser(t *testing.T) {
	s := setupServer(t)
	w := s.do("POST", "/api/v1/search", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tripID := decode[models.SearchResult](t, w).Trips[0].ID

	userID := uuid.New()
	token, err := s.jwt.GenerateAccessToken(userID, "+254712345678", []string{"passenger"})
	require.NoError(t, err)

	w = s.do("POST", "/api/v1/bookings", gin.H{
		"trip_id":       tripID,
		"seat_count":    1,
		"passengers":    []gin.H{{"full_name": "Amina Njeri"}},
		"contact_phone": "+254712345678",
	}, http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	booking := decode[models.Booking](t, w)
	require.NotNil(t, booking.UserID)
	assert.Equal(t, userID.String(), *booking.UserID)
}

func TestErrorMapping(t *testing.T) {
	s := setupServer(t)
	booking := s.searchAndBook(t, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown booking", "GET", "/api/v1/bookings/missing", nil, http.StatusNotFound, "not_found"},
		{"trip never searched", "POST", "/api/v1/bookings", gin.H{
			"trip_id": "busco:NOPE", "seat_count": 1,
			"passengers": []gin.H{{"full_name": "A"}}, "contact_phone": "+254712345678",
		}, http.StatusNotFound, "not_found"},
		{"malformed booking body", "POST", "/api/v1/bookings", []byte("{"), http.StatusBadRequest, "invalid_request"},
		{"too many seats", "POST", "/api/v1/bookings", gin.H{
			"trip_id": "busco:T1", "seat_count": 11,
			"passengers": []gin.H{{"full_name": "A"}}, "contact_phone": "+254712345678",
		}, http.StatusBadRequest, "invalid_request"},
		{"bad sort key", "POST", "/api/v1/search", gin.H{"sort_by": "colour"}, http.StatusBadRequest, "invalid_request"},
		{"method not offered in Kenya", "POST", "/api/v1/bookings/" + booking.ID + "/pay", gin.H{"method": "mtn_momo", "payer_reference": "0712345678"}, http.StatusUnprocessableEntity, "method_not_permitted"},
		{"unknown method", "POST", "/api/v1/bookings/" + booking.ID + "/pay", gin.H{"method": "cheque"}, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[map[string]interface{}](t, w)["error"])
		})
	}

	t.Run("expired hold", func(t *testing.T) {
		s.clock.Advance(16 * time.Minute)
		w := s.do("POST", "/api/v1/bookings/"+booking.ID+"/pay", gin.H{"method": "mpesa", "payer_reference": "0712345678"}, nil)
		assert.Equal(t, http.StatusGone, w.Code, w.Body.String())
	})
}

func TestCancelBooking(t *testing.T) {
	s := setupServer(t)
	booking := s.searchAndBook(t, 1)

	w := s.do("POST", "/api/v1/bookings/"+booking.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BookingCancelled, decode[models.Booking](t, w).Status)

	w = s.do("POST", "/api/v1/bookings/"+booking.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do("GET", "/api/v1/bookings/"+booking.ID+"/ticket", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPaymentWebhook(t *testing.T) {
	s := setupServer(t)

	t.Run("bad signature", func(t *testing.T) {
		body, _ := signedCallback(t, gin.H{"transaction_id": "sbx_1", "status": "SUCCESS"})
		w := s.do("POST", "/api/v1/webhooks/payments/mpesa", body, http.Header{gateway.SignatureHeader: {"deadbeef"}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unparsable payload", func(t *testing.T) {
		body := []byte("not json")
		w := s.do("POST", "/api/v1/webhooks/payments/mpesa", body,
			http.Header{gateway.SignatureHeader: {gateway.SignHMAC(webhookSecret, body)}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		w := s.do("POST", "/api/v1/webhooks/payments/cheque", []byte("{}"), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("queue down", func(t *testing.T) {
		s.queue.fail = true
		defer func() { s.queue.fail = false }()
		body, header := signedCallback(t, gin.H{"transaction_id": "sbx_2", "status": "FAILED"})
		w := s.do("POST", "/api/v1/webhooks/payments/mpesa", body, header)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	s := setupServer(t)
	booking := s.searchAndBook(t, 3)

	w := s.do("GET", "/api/v1/admin/inventory/busco:T1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := s.jwt.GenerateAccessToken(uuid.New(), "+254700000000", []string{"admin"})
	require.NoError(t, err)
	auth := http.Header{"Authorization": {"Bearer " + token}}

	w = s.do("GET", "/api/v1/admin/inventory/busco:T1", nil, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inv := decode[models.SeatInventory](t, w)
	assert.Equal(t, 3, inv.Held)

	w = s.do("POST", "/api/v1/admin/inventory/reconcile", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]interface{}](t, w)["corrected"])

	s.clock.Advance(16 * time.Minute)
	w = s.do("POST", "/api/v1/admin/sweep", nil, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[map[string]interface{}](t, w)
	assert.Equal(t, float64(1), report["reservations_expired"])
	assert.Equal(t, float64(1), report["bookings_expired"])
	assert.Equal(t, float64(0), report["bookings_confirmed"])

	w = s.do("GET", "/api/v1/bookings/"+booking.ID, nil, nil)
	assert.Equal(t, models.BookingExpired, decode[models.Booking](t, w).Status)

	w = s.do("GET", "/api/v1/admin/bookings/"+booking.ID+"/payment-events", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	w := s.do("GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "memory", decode[map[string]interface{}](t, w)["store"])
}
