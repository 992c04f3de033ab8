package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger adapts a zerolog logger to watermill.LoggerAdapter.
type WatermillLogger struct {
	log zerolog.Logger
}

func NewWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return WatermillLogger{log: l}
}

func (l WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return WatermillLogger{log: l.log.With().Fields(map[string]interface{}(fields)).Logger()}
}
