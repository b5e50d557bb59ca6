package helpers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WatermillLogger sends the event router's logging to zerolog. Watermill
// logs every delivered message at INFO, so INFO is lowered to DEBUG.
type WatermillLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = &WatermillLogger{}

func NewWatermill(logger zerolog.Logger) *WatermillLogger {
	return &WatermillLogger{logger: logger}
}

func (w *WatermillLogger) event(level zerolog.Level, fields watermill.LogFields) *zerolog.Event {
	// zerolog only accepts the unnamed map type
	return w.logger.WithLevel(level).Fields(map[string]interface{}(fields)).Caller(2)
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(zerolog.ErrorLevel, fields).Err(err).Msg(msg)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(zerolog.DebugLevel, fields).Msg(msg)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(zerolog.DebugLevel, fields).Msg(msg)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(zerolog.TraceLevel, fields).Msg(msg)
}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

type runIDKey struct{}

// NewCorrelationID returns a short random id for a generation run.
func NewCorrelationID() string {
	return shortuuid.New()
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// CorrelationIDFromContext returns the run id carried by ctx. Without one a
// fresh id prefixed with "gen_" is returned.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	log.Ctx(ctx).Trace().Msg("Run has no correlation id")
	return "gen_" + shortuuid.New()
}

// RunLogger tags logger with the run id carried by ctx, if any.
func RunLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	v, ok := ctx.Value(runIDKey{}).(string)
	if !ok {
		return logger
	}
	return logger.With().Str("run_id", v).Logger()
}
