package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pocketbrain/pkg/helpers"
)

// TopicChat is the topic generation and state events are published on.
const TopicChat = "chat"

// Metadata keys set on every published message.
const (
	MetadataEventType = "event_type"
	MetadataMessageID = "message_id"
	MetadataRunID     = "run_id"
)

// EventRouter fans events out to in-process subscribers. Publishing blocks
// until every subscriber has acked, so each subscriber sees the events of a
// generation in the order they were emitted.
type EventRouter struct {
	logger  watermill.LoggerAdapter
	pubSub  *gochannel.GoChannel
	router  *message.Router
	verbose bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

// WithVerbose logs the router's own activity and keeps event metadata in
// raw dumps.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger.With().Str("component", "event-router").Logger())
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router
	return ret, nil
}

// Sink returns an EventSink publishing on topic through this router.
func (e *EventRouter) Sink(topic string) *WatermillSink {
	return NewWatermillSink(e.pubSub, topic)
}

// Close stops the publisher first so that no producer stays blocked on a
// subscriber that is going away.
func (e *EventRouter) Close() error {
	pubErr := e.pubSub.Close()
	if pubErr != nil {
		log.Error().Err(pubErr).Msg("Failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
		return err
	}
	return pubErr
}

// AddHandler subscribes a raw message handler to topic. Handlers must be
// added before Run.
func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.pubSub, f)
}

// HandleEvents subscribes fn to the events of topic. With types given, other
// events are acked without being decoded.
func (e *EventRouter) HandleEvents(name string, topic string, fn func(ctx context.Context, ev Event) error, types ...EventType) {
	handler := EventHandler(fn)
	if len(types) == 0 {
		e.AddHandler(name, topic, handler)
		return
	}
	wanted := map[string]bool{}
	for _, t := range types {
		wanted[string(t)] = true
	}
	e.AddHandler(name, topic, func(msg *message.Message) error {
		if t := msg.Metadata.Get(MetadataEventType); t != "" && !wanted[t] {
			msg.Ack()
			return nil
		}
		return handler(msg)
	})
}

// EventHandler decodes messages and hands typed events to fn. Undecodable
// payloads are logged and dropped.
func EventHandler(fn func(ctx context.Context, ev Event) error) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Failed to parse event from message payload")
			return nil
		}
		return fn(msg.Context(), ev)
	}
}

// DumpRawEvents writes every event as indented JSON. Unless the router is
// verbose, the metadata block is reduced to the message id.
func (e *EventRouter) DumpRawEvents(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		var s map[string]interface{}
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		if !e.verbose {
			delete(s, "meta")
			s["id"] = msg.Metadata.Get(MetadataMessageID)
		}
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
