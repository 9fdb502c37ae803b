package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"fitpass/internal/config"
	"fitpass/internal/database"
	"fitpass/internal/domain"
	"fitpass/internal/events"
	"fitpass/internal/models"
	"fitpass/internal/pass"
	"fitpass/internal/payment"
	"fitpass/internal/report"
	"fitpass/internal/repository"
	"fitpass/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test_key_secret"
	testTokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type stubGateway struct {
	seq atomic.Int64
}

func (g *stubGateway) CreateOrder(_ context.Context, req models.GatewayOrderRequest) (*models.GatewayOrder, error) {
	n := g.seq.Add(1)
	return &models.GatewayOrder{
		ID:          fmt.Sprintf("order_%d", n),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      "created",
	}, nil
}

type testEnv struct {
	db       *database.DB
	server   *HTTPServer
	verifier *payment.Verifier
	bookings *service.BookingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	verifier, err := payment.NewVerifier(testSecret)
	require.NoError(t, err)
	tokens, err := pass.NewTokenSealer(testTokenKey)
	require.NoError(t, err)

	intents := repository.NewMemoryIntentStore()
	bus := events.NewEventBus(&logger)

	bookings := service.NewBookingService(db, verifier, intents, pass.NewCodeGenerator("FIT", 6), tokens, bus,
		service.BookingConfig{PlatformFeeBps: 1000, Currency: "INR", Provider: "razorpay"}, &logger)
	t.Cleanup(bookings.Wait)

	admin := service.NewAdminService(db, bus, &logger)
	admin.SetNotificationStore(db)

	svc := Services{
		Listings: service.NewListingService(db, &logger),
		Orders: service.NewOrderService(db, &stubGateway{}, intents, bus,
			service.OrderConfig{Currency: "INR"}, &logger),
		Bookings: bookings,
		CheckIns: service.NewCheckInService(db, tokens, bus, &logger),
		Admin:    admin,
		Reports:  report.NewExporter(db, t.TempDir(), &logger),
		Health:   db,
	}

	cfg := config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true, Port: 0}}
	return &testEnv{
		db:       db,
		server:   NewHTTPServer(cfg, svc, 8, &logger),
		verifier: verifier,
		bookings: bookings,
	}
}

func (e *testEnv) seedGym(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.db.UpsertListing(context.Background(), &models.Listing{
		ID:      id,
		Kind:    models.KindGym,
		Name:    "Iron Temple",
		OwnerID: "owner_gym",
		Status:  models.ListingApproved,
		Passes:  []models.Pass{{DurationDays: 1, Price: 250}, {DurationDays: 30, Price: 1500}},
	}))
}

func (e *testEnv) seedEvent(t *testing.T, id string, capacity int) {
	t.Helper()
	price := 500.0
	require.NoError(t, e.db.UpsertListing(context.Background(), &models.Listing{
		ID:        id,
		Kind:      models.KindEvent,
		Name:      "Sunrise 10K",
		OwnerID:   "owner_evt",
		Status:    models.ListingApproved,
		FlatPrice: &price,
		Capacity:  capacity,
	}))
}

func (e *testEnv) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		req.Header.Set("x-actor-id", actor)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// buyGymPass runs the order and payment steps for user and returns the booking.
func (e *testEnv) buyGymPass(t *testing.T, listingID, user, paymentID string) bookingResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/orders", user, orderRequest{ListingID: listingID, PassDurationDays: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[orderResponse](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/payments/verify", user, verifyRequest{
		GatewayOrderID:   order.GatewayOrderID,
		PaymentID:        paymentID,
		Signature:        e.verifier.Sign(order.GatewayOrderID, paymentID),
		ListingID:        listingID,
		PassDurationDays: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[bookingResponse](t, rec)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestListListings(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")
	require.NoError(t, env.db.UpsertListing(context.Background(), &models.Listing{
		ID: "gym-2", Kind: models.KindGym, Name: "Pending Gym", OwnerID: "o", Status: models.ListingPending,
		Passes: []models.Pass{{DurationDays: 1, Price: 100}},
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/listings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Listings []models.Listing `json:"listings"`
	}](t, rec)
	require.Len(t, body.Listings, 1)
	assert.Equal(t, "gym-1", body.Listings[0].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/listings/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseAndCheckInFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")

	booking := env.buyGymPass(t, "gym-1", "user_1", "pay_1")
	assert.True(t, strings.HasPrefix(booking.BookingCode, "FIT-"))
	assert.Equal(t, models.StatusConfirmed, booking.Status)
	assert.Equal(t, int64(25000), booking.Amount)
	assert.Equal(t, int64(2500), booking.PlatformFee)
	assert.Equal(t, int64(22500), booking.OwnerPayout)
	assert.NotEmpty(t, booking.Token)
	require.NotNil(t, booking.ValidUntil)

	rec := env.do(t, http.MethodGet, "/api/v1/bookings/"+booking.BookingCode, "user_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.BookingID, decodeBody[bookingResponse](t, rec).BookingID)

	rec = env.do(t, http.MethodGet, "/api/v1/bookings/"+booking.BookingCode, "user_2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/bookings/"+booking.BookingCode+"/qr", "user_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())

	rec = env.do(t, http.MethodPost, "/api/v1/checkins", "staff_1", checkInRequest{BookingCode: strings.ToLower(booking.BookingCode)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[service.CheckInResult](t, rec)
	assert.True(t, first.Valid)
	require.NotNil(t, first.Booking)
	assert.Equal(t, models.StatusCheckedIn, first.Booking.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/checkins", "staff_1", checkInRequest{Token: booking.Token})
	assert.Equal(t, http.StatusConflict, rec.Code)
	second := decodeBody[service.CheckInResult](t, rec)
	assert.False(t, second.Valid)
}

func TestVerifyPayment_ReplayAndForgery(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")
	booking := env.buyGymPass(t, "gym-1", "user_1", "pay_1")

	proof := verifyRequest{
		GatewayOrderID:   "order_1",
		PaymentID:        "pay_1",
		Signature:        env.verifier.Sign("order_1", "pay_1"),
		ListingID:        "gym-1",
		PassDurationDays: 1,
	}

	rec := env.do(t, http.MethodPost, "/api/v1/payments/verify", "user_1", proof)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, booking.BookingCode, decodeBody[bookingResponse](t, rec).BookingCode)

	rec = env.do(t, http.MethodPost, "/api/v1/payments/verify", "user_2", proof)
	assert.Equal(t, http.StatusConflict, rec.Code)

	forged := proof
	forged.PaymentID = "pay_2"
	rec = env.do(t, http.MethodPost, "/api/v1/payments/verify", "user_1", forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "authenticity", body["kind"])
}

func TestVerifyPayment_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")

	rec := env.do(t, http.MethodPost, "/api/v1/payments/verify", "user_1", verifyRequest{
		GatewayOrderID:   "order_elsewhere",
		PaymentID:        "pay_1",
		Signature:        env.verifier.Sign("order_elsewhere", "pay_1"),
		ListingID:        "gym-1",
		PassDurationDays: 1,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := env.db.GetBookingByPaymentID(context.Background(), "pay_1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	recs, err := env.db.ListReconciliations(context.Background(), models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, service.ReasonIntentMismatch, recs[0].Reason)
}

func TestCreateOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedEvent(t, "evt-1", 2)

	rec := env.do(t, http.MethodPost, "/api/v1/orders", "", orderRequest{ListingID: "evt-1", Quantity: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_1", orderRequest{ListingID: "evt-1", Quantity: 3})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_1", orderRequest{ListingID: "evt-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_1", map[string]any{"listing_id": "evt-1", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_1", orderRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_1", orderRequest{ListingID: "evt-1", Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decodeBody[orderResponse](t, rec)
	assert.Equal(t, int64(100000), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, 2, order.Meta.Quantity)
	assert.Equal(t, int64(50000), order.Meta.UnitAmount)
	assert.True(t, strings.HasPrefix(order.Receipt, "rcpt_evt-1_"))
}

func TestAdminCancelAndReconciliations(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")
	booking := env.buyGymPass(t, "gym-1", "user_1", "pay_1")

	rec := env.do(t, http.MethodPost, "/api/v1/admin/bookings/"+booking.BookingCode+"/cancel", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/bookings/"+booking.BookingCode+"/cancel", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCancelled, decodeBody[bookingResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/bookings/"+booking.BookingCode+"/cancel", "admin_1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/orders", "user_3", orderRequest{ListingID: "gym-1", PassDurationDays: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[orderResponse](t, rec)

	require.NoError(t, env.db.SetListingStatus(context.Background(), "gym-1", models.ListingRejected))
	rec = env.do(t, http.MethodPost, "/api/v1/payments/verify", "user_3", verifyRequest{
		GatewayOrderID:   order.GatewayOrderID,
		PaymentID:        "pay_9",
		Signature:        env.verifier.Sign(order.GatewayOrderID, "pay_9"),
		ListingID:        "gym-1",
		PassDurationDays: 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/reconciliations?status=open", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decodeBody[struct {
		Reconciliations []models.Reconciliation `json:"reconciliations"`
	}](t, rec).Reconciliations
	require.Len(t, recs, 1)
	assert.Equal(t, "pay_9", recs[0].PaymentID)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/reconciliations/%d/resolve", recs[0].ID), "admin_1",
		map[string]string{"note": "refunded"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/admin/reconciliations/abc/resolve", "admin_1", map[string]string{"note": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListingsAndManualBooking(t *testing.T) {
	env := newTestEnv(t)
	price := 300.0

	rec := env.do(t, http.MethodPost, "/api/v1/admin/listings", "admin_1", models.Listing{
		ID: "evt-2", Kind: models.KindEvent, Name: "Harbor Swim", OwnerID: "owner_evt",
		Status: models.ListingPending, FlatPrice: &price, Capacity: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeBody[models.Listing](t, rec).Remaining)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/listings", "admin_1", models.Listing{
		ID: "evt-3", Kind: models.KindEvent, Name: "No Price", OwnerID: "owner_evt", Capacity: 5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/listings?status=pending", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[struct {
		Listings []models.Listing `json:"listings"`
	}](t, rec).Listings
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-2", pending[0].ID)

	rec = env.do(t, http.MethodPost, "/api/v1/admin/listings/evt-2/status", "admin_1", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/admin/bookings/manual", "admin_1", manualBookingRequest{
		ListingID: "evt-2", UserID: "user_5", Quantity: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	manual := decodeBody[bookingResponse](t, rec)
	assert.Equal(t, models.StatusActive, manual.Status)
	assert.Equal(t, int64(60000), manual.Amount)

	listing, err := env.db.GetListing(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.Equal(t, 3, listing.Remaining)
	assert.Equal(t, 2, listing.TicketsSold)
}

func TestFailedNotifications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/v1/admin/notifications/failed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/notifications/failed", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notifications":[]}`, rec.Body.String())

	task := &models.NotificationTask{TaskType: "booking_confirmation", BookingID: "b1", Payload: `{"booking_id":"b1"}`}
	require.NoError(t, env.db.CreateNotificationTask(ctx, task))
	require.NoError(t, env.db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, "gave up", nil))

	rec = env.do(t, http.MethodGet, "/api/v1/admin/notifications/failed", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeBody[struct {
		Notifications []models.NotificationTask `json:"notifications"`
	}](t, rec).Notifications
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, models.TaskFailed, tasks[0].Status)
}

func TestBookingReport(t *testing.T) {
	env := newTestEnv(t)
	env.seedGym(t, "gym-1")
	env.buyGymPass(t, "gym-1", "user_1", "pay_1")

	rec := env.do(t, http.MethodGet, "/api/v1/admin/reports/bookings.xlsx?from=2000-01-01&to=2999-12-31", "admin_1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bookings_2000-01-01_to_2999-12-31.xlsx")
	// xlsx files are zip archives.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = env.do(t, http.MethodGet, "/api/v1/admin/reports/bookings.xlsx?from=yesterday", "admin_1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/bookings/FIT-NOPE22", "user_1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "not_found", body["kind"])

	rec = env.do(t, http.MethodGet, "/api/v1/bookings/FIT-NOPE22", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
