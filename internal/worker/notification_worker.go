package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"
	"fitpass/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskBookingConfirmation resends the proof of purchase for a booking.
const TaskBookingConfirmation = "booking_confirmation"

type notificationPayload struct {
	BookingID string `json:"booking_id"`
	Code      string `json:"code,omitempty"`
	Cause     string `json:"cause,omitempty"`
	// Channels still owed the notification. Empty means all of them.
	Channels []string `json:"channels,omitempty"`
}

// channelNotifier can resend to a subset of its channels.
type channelNotifier interface {
	NotifyChannels(ctx context.Context, b *models.Booking, names []string) error
}

// TaskStore persists notification retries.
type TaskStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	UpdateNotificationTaskPayload(ctx context.Context, id int64, payload string) error
}

// NotificationWorker retries booking notifications that failed on the
// request path. Tasks live in SQLite; redis and an in-memory channel only
// speed up pickup.
type NotificationWorker struct {
	store         TaskStore
	bookings      domain.BookingRepository
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotificationWorker(
	store TaskStore,
	bookings domain.BookingRepository,
	notifier domain.Notifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		bookings:      bookings,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.NotificationTask, 128),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// SetPollInterval overrides how often the database is polled when the fast
// queues are empty.
func (w *NotificationWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// EnqueueNotification persists a retry for booking and schedules it.
func (w *NotificationWorker) EnqueueNotification(ctx context.Context, booking *models.Booking, cause error) error {
	if booking == nil || booking.ID == "" {
		return errors.New("booking id is required")
	}

	payload := notificationPayload{BookingID: booking.ID, Code: booking.Code, Channels: notify.FailedChannels(cause)}
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		payload.Cause = msg
		lastError = &msg
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		TaskType:  TaskBookingConfirmation,
		BookingID: booking.ID,
		Payload:   string(payloadBytes),
		Status:    models.TaskPending,
		LastError: lastError,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notification tasks")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}
		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.NotificationTask{}, false
		}
		w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	// A task can reach us from a fast queue and from polling.
	if current, err := w.store.GetNotificationTask(ctx, task.ID); err == nil {
		if current.Status == models.TaskCompleted || current.Status == models.TaskFailed {
			return
		}
		task = current
	}

	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	booking, err := w.bookings.GetBookingByID(ctx, payload.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		w.failTask(ctx, task, err)
		return
	}
	if err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.send(ctx, booking, payload.Channels); err != nil {
		w.narrowChannels(ctx, task, payload, err)
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification completed")
	}
}

func (w *NotificationWorker) send(ctx context.Context, booking *models.Booking, channels []string) error {
	if cn, ok := w.notifier.(channelNotifier); ok && len(channels) > 0 {
		return cn.NotifyChannels(ctx, booking, channels)
	}
	return w.notifier.NotifyBooking(ctx, booking)
}

// narrowChannels records which channels are still owed after a partial
// failure so the next attempt skips the ones that already delivered.
func (w *NotificationWorker) narrowChannels(ctx context.Context, task *models.NotificationTask, payload notificationPayload, cause error) {
	failed := notify.FailedChannels(cause)
	if len(failed) == 0 || slices.Equal(failed, payload.Channels) {
		return
	}
	payload.Channels = failed
	payload.Cause = cause.Error()
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode notification payload")
		return
	}
	if err := w.store.UpdateNotificationTaskPayload(ctx, task.ID, string(data)); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("update notification channels")
		return
	}
	task.Payload = string(data)
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification failed")
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("notification given up")
	w.pushDeadLetter(ctx, task)
}

func (w *NotificationWorker) decodePayload(raw string) (notificationPayload, error) {
	var payload notificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	if payload.BookingID == "" {
		return payload, errors.New("booking id missing")
	}
	return payload, nil
}

func (w *NotificationWorker) pushRedis(ctx context.Context, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
