package events

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventBookingMaterialized, handler)

	b := &models.Booking{ID: "b1", Code: "FIT-AAAAAA", UserID: "u1", ListingID: "gym_1", AmountMinor: 25000}
	err := bus.PublishJSON(EventBookingMaterialized, PayloadFromBooking(b, "u1"))
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventBookingMaterialized {
		t.Errorf("expected type %s, got %s", EventBookingMaterialized, received.Type)
	}

	var decoded BookingEventPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded.Code != "FIT-AAAAAA" || decoded.AmountMinor != 25000 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusWildcard(t *testing.T) {
	bus := NewEventBus(nil)
	var specific, all int

	bus.Subscribe(EventPaymentForged, func(_ *Event) error { specific++; return nil })
	bus.Subscribe(Wildcard, func(_ *Event) error { all++; return nil })

	bus.Publish(&Event{Type: EventPaymentForged})
	bus.Publish(&Event{Type: EventOrderCreated})

	if specific != 1 || all != 2 {
		t.Errorf("expected specific=1 all=2, got %d and %d", specific, all)
	}
}

func TestEventBusHandlerErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus(&logger)

	var second bool
	bus.Subscribe(EventBookingCancelled, func(_ *Event) error { return errors.New("boom") })
	bus.Subscribe(EventBookingCancelled, func(_ *Event) error { second = true; return nil })

	bus.Publish(&Event{Type: EventBookingCancelled})

	if !second {
		t.Error("expected second handler to run after the first failed")
	}
	if !strings.Contains(buf.String(), "event handler failed") {
		t.Errorf("expected handler failure to be logged, got %q", buf.String())
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Publish(&Event{Type: "unknown"})
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventOrderCreated, map[string]string{}); err != nil {
		t.Errorf("expected nil bus to be a no-op, got %v", err)
	}
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus(nil)
	if err := bus.PublishJSON(EventOrderCreated, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	bus := NewEventBus(nil)
	bus.Subscribe(Wildcard, LogSubscriber(&logger))

	_ = bus.PublishJSON(EventCapacityExceeded, BookingEventPayload{ListingID: "evt_1", Reason: "capacity_exceeded"})

	if !strings.Contains(buf.String(), `"event":"capacity_exceeded"`) {
		t.Errorf("expected event in log, got %q", buf.String())
	}
}
