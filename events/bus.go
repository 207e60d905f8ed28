package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"fixnearby-server/logging"
	"fixnearby-server/metrics"
)

// Handler consumes lifecycle events
type Handler interface {
	HandleEvent(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, e Event) error { return f(ctx, e) }

const seqKey = "seq"

// Bus publishes events and fans them out to handlers in publish order.
// gochannel hands each message to the subscriber from its own goroutine, so
// Publish stamps a sequence number and Serve holds back anything that
// arrives ahead of its turn.
type Bus struct {
	pubsub   *gochannel.GoChannel
	messages <-chan *message.Message
	cancel   context.CancelFunc
	handlers []Handler

	mu  sync.Mutex
	seq uint64

	// owned by Serve
	next    uint64
	pending map[uint64]*message.Message
}

// NewBus creates the bus and subscribes to Topic immediately so nothing
// published before Serve starts is dropped.
func NewBus(handlers ...Handler) (*Bus, error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := pubsub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", Topic, err)
	}

	return &Bus{
		pubsub:   pubsub,
		messages: messages,
		cancel:   cancel,
		handlers: handlers,
		next:     1,
		pending:  make(map[uint64]*message.Message),
	}, nil
}

// AddHandler registers h. Must be called before Serve.
func (b *Bus) AddHandler(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Publish sends e to every handler. Handlers see events in the order their
// Publish calls returned.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("kind", string(e.Kind))
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}

	b.mu.Lock()
	b.seq++
	msg.Metadata.Set(seqKey, strconv.FormatUint(b.seq, 10))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.seq--
		b.mu.Unlock()
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	b.mu.Unlock()
	metrics.EventsPublished.WithLabelValues(string(e.Kind)).Inc()
	return nil
}

// Serve dispatches messages until ctx is done
func (b *Bus) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.messages:
			if !ok {
				return nil
			}
			b.deliver(msg)
		}
	}
}

// deliver dispatches msg once every earlier message has been dispatched,
// then drains whatever it was blocking.
func (b *Bus) deliver(msg *message.Message) {
	seq, err := strconv.ParseUint(msg.Metadata.Get(seqKey), 10, 64)
	if err != nil || seq < b.next {
		b.dispatch(msg)
		return
	}
	if seq > b.next {
		b.pending[seq] = msg
		return
	}
	b.dispatch(msg)
	b.next++
	for {
		queued, ok := b.pending[b.next]
		if !ok {
			return
		}
		delete(b.pending, b.next)
		b.dispatch(queued)
		b.next++
	}
}

func (b *Bus) dispatch(msg *message.Message) {
	// Handler failures are logged, not retried: a nack would redeliver to every handler.
	defer msg.Ack()

	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable event")
		return
	}

	ctx := logging.ContextWithRequestID(context.Background(), msg.Metadata.Get("request_id"))
	for _, h := range b.handlers {
		if err := h.HandleEvent(ctx, e); err != nil {
			metrics.EventHandlerErrors.WithLabelValues(string(e.Kind)).Inc()
			logging.Ctx(ctx).Error().Err(err).
				Str("kind", string(e.Kind)).
				Uint("service_request_id", e.RequestID).
				Msg("Event handler failed")
		}
	}
}

// Close stops the subscription and the underlying pubsub
func (b *Bus) Close() error {
	b.cancel()
	return b.pubsub.Close()
}

func (b *Bus) String() string { return "event-bus" }

// NewLogger adapts the zerolog logger to watermill
func NewLogger() watermill.LoggerAdapter {
	return &zerologAdapter{fields: watermill.LogFields{"component": "watermill"}}
}

type zerologAdapter struct {
	fields watermill.LogFields
}

func (a *zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a *zerologAdapter) Info(msg string, fields watermill.LogFields) {
	logging.Info().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a *zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a *zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(a.fields.Add(fields))).Msg(msg)
}

func (a *zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zerologAdapter{fields: a.fields.Add(fields)}
}
