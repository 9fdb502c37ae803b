package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"fitpass/internal/database"
	"fitpass/internal/domain"
	"fitpass/internal/ledger"
	"fitpass/internal/models"
	"fitpass/internal/pass"
	"fitpass/internal/payment"
	"fitpass/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test_key_secret"
	testTokenKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *mockRepo) ListListings(ctx context.Context, status string) ([]*models.Listing, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Listing), args.Error(1)
}
func (m *mockRepo) UpsertListing(ctx context.Context, l *models.Listing) error {
	return m.Called(ctx, l).Error(0)
}
func (m *mockRepo) SetListingStatus(ctx context.Context, id, status string) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *mockRepo) CountActiveBookings(ctx context.Context, userID, listingID string) (int, error) {
	args := m.Called(ctx, userID, listingID)
	return args.Int(0), args.Error(1)
}
func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) CreateEventBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingByPaymentID(ctx context.Context, paymentID string) (*models.Booking, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) CheckInBooking(ctx context.Context, id, verifiedBy string, at time.Time) error {
	return m.Called(ctx, id, verifiedBy, at).Error(0)
}
func (m *mockRepo) CancelBooking(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) ExpireBookings(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRepo) ListBookings(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetListingRevenue(ctx context.Context) ([]*models.ListingRevenue, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ListingRevenue), args.Error(1)
}
func (m *mockRepo) CreateReconciliation(ctx context.Context, rec *models.Reconciliation) error {
	return m.Called(ctx, rec).Error(0)
}
func (m *mockRepo) ListReconciliations(ctx context.Context, status string) ([]*models.Reconciliation, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reconciliation), args.Error(1)
}
func (m *mockRepo) ResolveReconciliation(ctx context.Context, id int64, note string) error {
	return m.Called(ctx, id, note).Error(0)
}
func (m *mockRepo) SaveOrderIntent(ctx context.Context, intent *models.OrderIntent) error {
	return m.Called(ctx, intent).Error(0)
}
func (m *mockRepo) GetOrderIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	args := m.Called(ctx, gatewayOrderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderIntent), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req models.GatewayOrderRequest) (*models.GatewayOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayOrder), args.Error(1)
}

type mockEventBus struct {
	mu     sync.Mutex
	events []string
}

func (m *mockEventBus) PublishJSON(eventType string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *mockEventBus) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// sequenceCodes hands out the given codes in order, then repeats the last.
type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (s *sequenceCodes) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.codes) {
		i = len(s.codes) - 1
	}
	s.calls++
	return s.codes[i], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeNotifier) NotifyBooking(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, b.Code)
	return f.err
}

type fakeQueue struct {
	mu     sync.Mutex
	queued []string
}

func (f *fakeQueue) EnqueueNotification(_ context.Context, b *models.Booking, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, b.ID)
	return nil
}

var errBoom = errors.New("boom")

func testLogger() *zerolog.Logger {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &logger
}

func ptrFloat(v float64) *float64 { return &v }

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedGymListing(t *testing.T, db *database.DB, id, status string) *models.Listing {
	t.Helper()
	l := &models.Listing{
		ID:      id,
		Kind:    models.KindGym,
		Name:    "Iron Temple",
		OwnerID: "owner_gym",
		Status:  status,
		Passes:  []models.Pass{{DurationDays: 1, Price: 250}},
	}
	require.NoError(t, db.UpsertListing(context.Background(), l))
	return l
}

func seedEventListing(t *testing.T, db *database.DB, id string, capacity int) *models.Listing {
	t.Helper()
	l := &models.Listing{
		ID:        id,
		Kind:      models.KindEvent,
		Name:      "Sunrise 10K",
		OwnerID:   "owner_evt",
		Status:    models.ListingApproved,
		FlatPrice: ptrFloat(500),
		Capacity:  capacity,
	}
	require.NoError(t, db.UpsertListing(context.Background(), l))
	return l
}

type bookingFixture struct {
	svc      *BookingService
	repo     domain.Repository
	verifier *payment.Verifier
	intents  *repository.MemoryIntentStore
	tokens   *pass.TokenSealer
	bus      *mockEventBus
}

func newBookingFixture(t *testing.T, repo domain.Repository, codes domain.CodeGenerator) *bookingFixture {
	t.Helper()
	verifier, err := payment.NewVerifier(testSecret)
	require.NoError(t, err)
	tokens, err := pass.NewTokenSealer(testTokenKey)
	require.NoError(t, err)
	if codes == nil {
		codes = pass.NewCodeGenerator("FIT", 6)
	}
	intents := repository.NewMemoryIntentStore()
	bus := &mockEventBus{}

	svc := NewBookingService(repo, verifier, intents, codes, tokens, bus, BookingConfig{
		PlatformFeeBps:  1000,
		CodeMaxAttempts: 5,
		Currency:        "INR",
		Provider:        "razorpay",
	}, testLogger())

	return &bookingFixture{svc: svc, repo: repo, verifier: verifier, intents: intents, tokens: tokens, bus: bus}
}

func (f *bookingFixture) request(orderID, paymentID, listingID, actor string, sel models.Selector) MaterializeRequest {
	return MaterializeRequest{
		GatewayOrderID: orderID,
		PaymentID:      paymentID,
		Signature:      f.verifier.Sign(orderID, paymentID),
		ListingID:      listingID,
		ActorID:        actor,
		Selector:       sel,
	}
}

// paid records the order intent CreateOrder would have written for sel at the
// listing's current price and returns the matching payment proof.
func (f *bookingFixture) paid(t *testing.T, orderID, paymentID, listingID, actor string, sel models.Selector) MaterializeRequest {
	t.Helper()
	ctx := context.Background()
	listing, err := f.repo.GetListing(ctx, listingID)
	require.NoError(t, err)
	norm := sel.Normalize(listing.Kind)
	quote, err := ledger.ResolvePrice(listing, norm)
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveOrderIntent(ctx, &models.OrderIntent{
		GatewayOrderID: orderID,
		AmountMinor:    quote.TotalMinor,
		Currency:       "INR",
		Receipt:        BuildReceipt(listingID, time.Now()),
		ListingID:      listingID,
		ListingKind:    listing.Kind,
		UserID:         actor,
		Selector:       norm,
	}))
	return f.request(orderID, paymentID, listingID, actor, sel)
}
