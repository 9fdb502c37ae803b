package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedEvent(t *testing.T, db *DB, id string, capacity int) *models.Listing {
	t.Helper()
	price := 250.0
	listing := &models.Listing{
		ID:        id,
		Kind:      models.KindEvent,
		Name:      "Sunrise Run " + id,
		Location:  "Riverside",
		OwnerID:   "owner_1",
		Status:    models.ListingApproved,
		FlatPrice: &price,
		Capacity:  capacity,
	}
	require.NoError(t, db.UpsertListing(context.Background(), listing))
	return listing
}

func seedGym(t *testing.T, db *DB, id string) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:           id,
		Kind:         models.KindGym,
		Name:         "Iron Temple",
		OwnerID:      "owner_2",
		Status:       models.ListingApproved,
		Passes:       []models.Pass{{DurationDays: 30, Price: 1500}, {DurationDays: 1, Price: 100}},
		CustomPrices: map[int]float64{7: 500},
	}
	require.NoError(t, db.UpsertListing(context.Background(), listing))
	return listing
}

func newBooking(listing *models.Listing, userID string, quantity int) *models.Booking {
	id := uuid.NewString()
	return &models.Booking{
		ID:               id,
		Code:             "FIT-" + id[:6],
		Kind:             listing.Kind,
		UserID:           userID,
		ListingID:        listing.ID,
		ListingName:      listing.Name,
		OwnerID:          listing.OwnerID,
		Quantity:         quantity,
		UnitAmountMinor:  25000,
		AmountMinor:      25000 * int64(quantity),
		Currency:         "INR",
		PlatformFeeMinor: 2500 * int64(quantity),
		OwnerPayoutMinor: 22500 * int64(quantity),
		PaymentProvider:  "razorpay",
		GatewayOrderID:   "order_" + id[:8],
		PaymentID:        "pay_" + id[:8],
		Status:           models.InitialStatus(listing.Kind),
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestListings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedGym(t, db, "gym_1")
	seedEvent(t, db, "evt_1", 10)

	t.Run("GetListingWithPasses", func(t *testing.T) {
		l, err := db.GetListing(ctx, "gym_1")
		require.NoError(t, err)
		require.Len(t, l.Passes, 2)
		assert.Equal(t, 1, l.Passes[0].DurationDays)
		assert.Equal(t, 500.0, l.CustomPrices[7])
		assert.Nil(t, l.FlatPrice)
	})

	t.Run("GetListingNotFound", func(t *testing.T) {
		_, err := db.GetListing(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrListingNotFound)
	})

	t.Run("UpsertKeepsCountersAndStatus", func(t *testing.T) {
		listing := seedEvent(t, db, "evt_2", 10)
		b := newBooking(listing, "user_1", 3)
		require.NoError(t, db.CreateEventBooking(ctx, b))
		require.NoError(t, db.SetListingStatus(ctx, "evt_2", models.ListingRejected))

		listing.Capacity = 12
		listing.Status = models.ListingApproved
		require.NoError(t, db.UpsertListing(ctx, listing))

		got, err := db.GetListing(ctx, "evt_2")
		require.NoError(t, err)
		assert.Equal(t, 12, got.Capacity)
		assert.Equal(t, 9, got.Remaining)
		assert.Equal(t, 3, got.TicketsSold)
		assert.Equal(t, models.ListingRejected, got.Status)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		approved, err := db.ListListings(ctx, models.ListingApproved)
		require.NoError(t, err)
		assert.Len(t, approved, 2)

		all, err := db.ListListings(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("SetStatusMissing", func(t *testing.T) {
		err := db.SetListingStatus(ctx, "missing", models.ListingApproved)
		assert.ErrorIs(t, err, domain.ErrListingNotFound)
	})
}

func TestCreateEventBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	listing := seedEvent(t, db, "evt_cap", 5)

	b := newBooking(listing, "user_1", 3)
	require.NoError(t, db.CreateEventBooking(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	got, err := db.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Remaining)
	assert.Equal(t, 3, got.TicketsSold)
	assert.Equal(t, int64(75000), got.RevenueMinor)

	t.Run("CapacityExceededLeavesNoTrace", func(t *testing.T) {
		over := newBooking(listing, "user_2", 3)
		err := db.CreateEventBooking(ctx, over)
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

		_, err = db.GetBookingByID(ctx, over.ID)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)

		got, err := db.GetListing(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Remaining)
	})

	t.Run("DuplicateCodeRollsBackDecrement", func(t *testing.T) {
		dup := newBooking(listing, "user_3", 1)
		dup.Code = b.Code
		err := db.CreateEventBooking(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrDuplicateCode)

		got, err := db.GetListing(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Remaining)
	})

	t.Run("DuplicatePayment", func(t *testing.T) {
		dup := newBooking(listing, "user_1", 1)
		dup.PaymentID = b.PaymentID
		err := db.CreateEventBooking(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrDuplicatePayment)
	})

	t.Run("UnknownListing", func(t *testing.T) {
		ghost := newBooking(&models.Listing{ID: "ghost", Kind: models.KindEvent}, "user_4", 1)
		err := db.CreateEventBooking(ctx, ghost)
		assert.ErrorIs(t, err, domain.ErrListingNotFound)
	})
}

func TestBookingLookups(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	gym := seedGym(t, db, "gym_lookup")

	b := newBooking(gym, "user_1", 1)
	validUntil := time.Now().Add(30 * 24 * time.Hour)
	b.ValidUntil = &validUntil
	b.PassDurationDays = 30
	require.NoError(t, db.CreateBooking(ctx, b))

	byCode, err := db.GetBookingByCode(ctx, b.Code)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)
	require.NotNil(t, byCode.ValidUntil)
	assert.WithinDuration(t, validUntil, *byCode.ValidUntil, time.Second)

	byPayment, err := db.GetBookingByPaymentID(ctx, b.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, b.Code, byPayment.Code)

	_, err = db.GetBookingByCode(ctx, "FIT-NOPE00")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	count, err := db.CountActiveBookings(ctx, "user_1", gym.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	listing, err := db.GetListing(ctx, gym.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), listing.RevenueMinor)
}

func TestCheckInBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	listing := seedEvent(t, db, "evt_checkin", 10)

	b := newBooking(listing, "user_1", 1)
	require.NoError(t, db.CreateEventBooking(ctx, b))

	require.NoError(t, db.CheckInBooking(ctx, b.ID, "staff_1", time.Now()))

	err := db.CheckInBooking(ctx, b.ID, "staff_2", time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyUsedOrInvalid)

	got, err := db.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, got.Status)
	assert.Equal(t, "staff_1", got.VerifiedBy)
	assert.NotNil(t, got.VerifiedAt)
	assert.Equal(t, int64(2), got.Version)

	t.Run("ExpiredPassRejected", func(t *testing.T) {
		gym := seedGym(t, db, "gym_expired")
		pass := newBooking(gym, "user_2", 1)
		past := time.Now().Add(-time.Hour)
		pass.ValidUntil = &past
		require.NoError(t, db.CreateBooking(ctx, pass))

		err := db.CheckInBooking(ctx, pass.ID, "staff_1", time.Now())
		assert.ErrorIs(t, err, domain.ErrAlreadyUsedOrInvalid)
	})
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	listing := seedEvent(t, db, "evt_cancel", 4)

	b := newBooking(listing, "user_1", 2)
	require.NoError(t, db.CreateEventBooking(ctx, b))

	require.NoError(t, db.CancelBooking(ctx, b.ID))

	got, err := db.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Remaining)
	assert.Equal(t, 0, got.TicketsSold)
	assert.Equal(t, int64(0), got.RevenueMinor)

	assert.ErrorIs(t, db.CancelBooking(ctx, b.ID), domain.ErrNotCancellable)
	assert.ErrorIs(t, db.CancelBooking(ctx, "missing"), domain.ErrBookingNotFound)

	count, err := db.CountActiveBookings(ctx, "user_1", listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExpireBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	gym := seedGym(t, db, "gym_expire")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	stale := newBooking(gym, "user_1", 1)
	stale.ValidUntil = &past
	require.NoError(t, db.CreateBooking(ctx, stale))

	fresh := newBooking(gym, "user_2", 1)
	fresh.ValidUntil = &future
	require.NoError(t, db.CreateBooking(ctx, fresh))

	n, err := db.ExpireBookings(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.GetBookingByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	got, err = db.GetBookingByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestListBookingsAndRevenue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	listing := seedEvent(t, db, "evt_report", 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.CreateEventBooking(ctx, newBooking(listing, fmt.Sprintf("user_%d", i), 1)))
	}
	cancelled := newBooking(listing, "user_x", 2)
	require.NoError(t, db.CreateEventBooking(ctx, cancelled))
	require.NoError(t, db.CancelBooking(ctx, cancelled.ID))

	bookings, err := db.ListBookings(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, bookings, 4)

	revenue, err := db.GetListingRevenue(ctx)
	require.NoError(t, err)
	require.Len(t, revenue, 1)
	assert.Equal(t, 3, revenue[0].Bookings)
	assert.Equal(t, int64(75000), revenue[0].AmountMinor)
	assert.Equal(t, int64(7500), revenue[0].PlatformFeeMinor)
	assert.Equal(t, revenue[0].AmountMinor, revenue[0].PlatformFeeMinor+revenue[0].OwnerPayoutMinor)
}

func TestReconciliations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := &models.Reconciliation{
		GatewayOrderID: "order_1",
		PaymentID:      "pay_1",
		ListingID:      "evt_1",
		UserID:         "user_1",
		Quantity:       2,
		AmountMinor:    50000,
		Reason:         "capacity_exceeded",
	}
	require.NoError(t, db.CreateReconciliation(ctx, rec))
	assert.NotZero(t, rec.ID)

	open, err := db.ListReconciliations(ctx, models.ReconciliationOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pay_1", open[0].PaymentID)

	require.NoError(t, db.ResolveReconciliation(ctx, rec.ID, "refunded"))
	assert.ErrorIs(t, db.ResolveReconciliation(ctx, rec.ID, "again"), domain.ErrReconciliationNotFound)

	all, err := db.ListReconciliations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ReconciliationResolved, all[0].Status)
	assert.Equal(t, "refunded", all[0].Note)
	assert.NotNil(t, all[0].ResolvedAt)
}

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.NotificationTask{TaskType: "booking_confirmation", BookingID: "b1", Payload: `{"booking_id":"b1"}`}
	require.NoError(t, db.CreateNotificationTask(ctx, task))

	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	next := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, "smtp down", &next))

	pending, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := db.GetNotificationTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "smtp down", *got.LastError)

	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, "gave up", nil))
	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)
}

func TestOrderIntents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetOrderIntent(ctx, "order_1")
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)

	intent := &models.OrderIntent{
		GatewayOrderID: "order_1",
		AmountMinor:    50000,
		Currency:       "INR",
		Receipt:        "rcpt_evt_1_8000000123",
		ListingID:      "evt_1",
		ListingKind:    models.KindEvent,
		UserID:         "user_1",
		Selector:       models.Selector{Quantity: 2},
	}
	require.NoError(t, db.SaveOrderIntent(ctx, intent))
	assert.False(t, intent.CreatedAt.IsZero())

	got, err := db.GetOrderIntent(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.UserID)
	assert.Equal(t, models.Selector{Quantity: 2}, got.Selector)
	assert.Equal(t, int64(50000), got.AmountMinor)
	assert.Equal(t, models.KindEvent, got.ListingKind)

	dup := *intent
	dup.AmountMinor = 1
	assert.Error(t, db.SaveOrderIntent(ctx, &dup))

	got, err = db.GetOrderIntent(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.AmountMinor)
}
