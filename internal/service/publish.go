package service

import (
	"fitpass/internal/domain"

	"github.com/rs/zerolog"
)

func publish(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, payload any) {
	if bus == nil {
		return
	}
	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
