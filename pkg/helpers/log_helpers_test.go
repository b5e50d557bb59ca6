package helpers

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationID(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "run-1")
	assert.Equal(t, "run-1", CorrelationIDFromContext(ctx))

	generated := CorrelationIDFromContext(context.Background())
	assert.True(t, strings.HasPrefix(generated, "gen_"))
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}

func TestRunLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	untagged := RunLogger(context.Background(), logger)
	untagged.Info().Msg("untagged")
	assert.NotContains(t, buf.String(), "run_id")

	buf.Reset()
	ctx := ContextWithCorrelationID(context.Background(), "run-7")
	tagged := RunLogger(ctx, logger)
	tagged.Info().Msg("tagged")
	assert.Contains(t, buf.String(), `"run_id":"run-7"`)
}

func TestWatermillLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf).Level(zerolog.InfoLevel)
	a := NewWatermill(logger)

	a.Info("chatty", watermill.LogFields{"k": "v"})
	assert.Empty(t, buf.String())

	a.With(watermill.LogFields{"component": "router"}).Error("failed", assert.AnError, watermill.LogFields{"topic": "chat"})
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"message":"failed"`)
	assert.Contains(t, buf.String(), `"component":"router"`)
	assert.Contains(t, buf.String(), `"topic":"chat"`)
}
