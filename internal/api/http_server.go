package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fitpass/internal/config"
	"fitpass/internal/domain"
	"fitpass/internal/models"
	"fitpass/internal/pass"
	"fitpass/internal/report"
	"fitpass/internal/service"

	"github.com/rs/zerolog"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services bundles what the HTTP layer calls into.
type Services struct {
	Listings *service.ListingService
	Orders   *service.OrderService
	Bookings *service.BookingService
	CheckIns *service.CheckInService
	Admin    *service.AdminService
	Reports  *report.Exporter
	Health   Pinger
}

// HTTPServer exposes the marketplace API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	qrWidth int
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, qrWidth int, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, svc: svc, qrWidth: qrWidth, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	srv.route(mux, "GET /healthz", srv.handleHealth)

	srv.route(mux, "GET /api/v1/listings", srv.handleListListings)
	srv.route(mux, "GET /api/v1/listings/{id}", srv.handleGetListing)
	srv.route(mux, "POST /api/v1/orders", srv.handleCreateOrder)
	srv.route(mux, "POST /api/v1/payments/verify", srv.handleVerifyPayment)
	srv.route(mux, "POST /api/v1/checkins", srv.handleCheckIn)
	srv.route(mux, "GET /api/v1/bookings/{code}", srv.handleGetBooking)
	srv.route(mux, "GET /api/v1/bookings/{code}/qr", srv.handleBookingQR)

	srv.route(mux, "GET /api/v1/admin/listings", srv.handleAdminListListings)
	srv.route(mux, "POST /api/v1/admin/listings", srv.handleUpsertListing)
	srv.route(mux, "POST /api/v1/admin/listings/{id}/status", srv.handleSetListingStatus)
	srv.route(mux, "POST /api/v1/admin/bookings/{code}/cancel", srv.handleCancelBooking)
	srv.route(mux, "POST /api/v1/admin/bookings/manual", srv.handleManualBooking)
	srv.route(mux, "GET /api/v1/admin/reconciliations", srv.handleListReconciliations)
	srv.route(mux, "POST /api/v1/admin/reconciliations/{id}/resolve", srv.handleResolveReconciliation)
	srv.route(mux, "GET /api/v1/admin/notifications/failed", srv.handleFailedNotifications)
	srv.route(mux, "GET /api/v1/admin/reports/bookings.xlsx", srv.handleBookingReport)

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(routeKey).(*routeInfo); ok {
			info.pattern = pattern
		}
		h(w, r)
	})
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		if err := s.svc.Health.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.svc.Listings.ListApproved(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *HTTPServer) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.svc.Listings.GetListing(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type orderRequest struct {
	ListingID        string `json:"listing_id"`
	PassDurationDays int    `json:"pass_duration_days,omitempty"`
	Quantity         int    `json:"quantity,omitempty"`
}

type orderMeta struct {
	ListingID        string `json:"listing_id"`
	Kind             string `json:"kind"`
	Quantity         int    `json:"quantity"`
	PassDurationDays int    `json:"pass_duration_days,omitempty"`
	UnitAmount       int64  `json:"unit_amount"`
}

type orderResponse struct {
	GatewayOrderID string    `json:"gateway_order_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Receipt        string    `json:"receipt"`
	Meta           orderMeta `json:"meta"`
}

func (s *HTTPServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body orderRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.ListingID) == "" {
		writeError(w, http.StatusBadRequest, "listing_id is required")
		return
	}

	result, err := s.svc.Orders.CreateOrder(r.Context(), ActorFromContext(r.Context()), body.ListingID,
		models.Selector{PassDurationDays: body.PassDurationDays, Quantity: body.Quantity})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	intent := result.Intent
	writeJSON(w, http.StatusCreated, orderResponse{
		GatewayOrderID: intent.GatewayOrderID,
		Amount:         intent.AmountMinor,
		Currency:       intent.Currency,
		Receipt:        intent.Receipt,
		Meta: orderMeta{
			ListingID:        intent.ListingID,
			Kind:             intent.ListingKind,
			Quantity:         intent.Selector.Quantity,
			PassDurationDays: intent.Selector.PassDurationDays,
			UnitAmount:       result.Quote.UnitMinor,
		},
	})
}

type verifyRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	PaymentID        string `json:"payment_id"`
	Signature        string `json:"signature"`
	ListingID        string `json:"listing_id"`
	PassDurationDays int    `json:"pass_duration_days,omitempty"`
	Quantity         int    `json:"quantity,omitempty"`
	Email            string `json:"email,omitempty"`
}

type bookingResponse struct {
	BookingID   string     `json:"booking_id"`
	BookingCode string     `json:"booking_code"`
	Status      string     `json:"status"`
	Kind        string     `json:"kind"`
	ListingID   string     `json:"listing_id"`
	Quantity    int        `json:"quantity"`
	Amount      int64      `json:"amount"`
	PlatformFee int64      `json:"platform_fee"`
	OwnerPayout int64      `json:"owner_payout"`
	Currency    string     `json:"currency"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	Token       string     `json:"token,omitempty"`
}

func toBookingResponse(b *models.Booking) bookingResponse {
	return bookingResponse{
		BookingID:   b.ID,
		BookingCode: b.Code,
		Status:      b.Status,
		Kind:        b.Kind,
		ListingID:   b.ListingID,
		Quantity:    b.Quantity,
		Amount:      b.AmountMinor,
		PlatformFee: b.PlatformFeeMinor,
		OwnerPayout: b.OwnerPayoutMinor,
		Currency:    b.Currency,
		ValidUntil:  b.ValidUntil,
		Token:       b.Token,
	}
}

func (s *HTTPServer) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.svc.Bookings.Materialize(r.Context(), service.MaterializeRequest{
		GatewayOrderID: body.GatewayOrderID,
		PaymentID:      body.PaymentID,
		Signature:      body.Signature,
		ListingID:      body.ListingID,
		ActorID:        ActorFromContext(r.Context()),
		UserEmail:      body.Email,
		Selector:       models.Selector{PassDurationDays: body.PassDurationDays, Quantity: body.Quantity},
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

type checkInRequest struct {
	BookingCode string `json:"booking_code,omitempty"`
	Token       string `json:"token,omitempty"`
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var body checkInRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	input := body.BookingCode
	if input == "" {
		input = body.Token
	}
	if strings.TrimSpace(input) == "" {
		writeError(w, http.StatusBadRequest, "booking_code or token is required")
		return
	}

	result, err := s.svc.CheckIns.CheckIn(r.Context(), input, ActorFromContext(r.Context()))
	if err != nil {
		if result != nil {
			writeJSON(w, statusFor(err), result)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// lookupOwned resolves a booking for its owner. Other callers get NotFound
// so codes cannot be enumerated.
func (s *HTTPServer) lookupOwned(r *http.Request) (*models.Booking, error) {
	actor := ActorFromContext(r.Context())
	if actor == "" {
		return nil, domain.ErrUnauthenticated
	}
	booking, err := s.svc.CheckIns.Lookup(r.Context(), r.PathValue("code"))
	if err != nil {
		return nil, err
	}
	if booking.UserID != actor {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.lookupOwned(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (s *HTTPServer) handleBookingQR(w http.ResponseWriter, r *http.Request) {
	booking, err := s.lookupOwned(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	payload := booking.Token
	if payload == "" {
		payload = booking.Code
	}

	var buf bytes.Buffer
	if err := pass.WriteQR(&buf, payload, s.qrWidth); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := ActorFromContext(r.Context())
	if actor == "" {
		s.writeDomainError(w, r, domain.ErrUnauthenticated)
		return "", false
	}
	return actor, true
}

func (s *HTTPServer) handleAdminListListings(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	listings, err := s.svc.Listings.ListListings(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *HTTPServer) handleUpsertListing(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var listing models.Listing
	if err := decodeJSON(r, &listing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.svc.Listings.UpsertListing(r.Context(), &listing); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	saved, err := s.svc.Listings.GetListing(r.Context(), listing.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *HTTPServer) handleSetListingStatus(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	if err := s.svc.Listings.SetStatus(r.Context(), id, body.Status, admin); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"listing_id": id, "status": body.Status})
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	booking, err := s.svc.Admin.CancelBooking(r.Context(), r.PathValue("code"), admin)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

type manualBookingRequest struct {
	ListingID        string `json:"listing_id"`
	UserID           string `json:"user_id"`
	UserEmail        string `json:"user_email,omitempty"`
	PassDurationDays int    `json:"pass_duration_days,omitempty"`
	Quantity         int    `json:"quantity,omitempty"`
}

func (s *HTTPServer) handleManualBooking(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var body manualBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	booking, err := s.svc.Bookings.CreateManualBooking(r.Context(), admin, service.ManualBookingRequest{
		ListingID: body.ListingID,
		UserID:    body.UserID,
		UserEmail: body.UserEmail,
		Selector:  models.Selector{PassDurationDays: body.PassDurationDays, Quantity: body.Quantity},
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

func (s *HTTPServer) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	recs, err := s.svc.Admin.ListReconciliations(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.Reconciliation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciliations": recs})
}

func (s *HTTPServer) handleFailedNotifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	tasks, err := s.svc.Admin.ListFailedNotifications(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.NotificationTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": tasks})
}

func (s *HTTPServer) handleResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reconciliation id")
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.svc.Admin.ResolveReconciliation(r.Context(), id, body.Note, admin); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": models.ReconciliationResolved})
}

func (s *HTTPServer) handleBookingReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if start, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if end, err = time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
			return
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	var buf bytes.Buffer
	if err := s.svc.Reports.Write(r.Context(), &buf, start, end); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings_%s_to_%s.xlsx"`,
		start.Format("2006-01-02"), end.Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
