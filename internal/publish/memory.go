package publish

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"slackgate/internal/domain"
)

const sendTimeout = 10 * time.Second

// ErrBusClosed is returned by Send after Close.
var ErrBusClosed = errors.New("memory bus closed")

// MemoryHandler receives one delivered message.
type MemoryHandler func(ctx context.Context, rec domain.Record, topic string)

// MemoryBus is a channel-backed transport for local runs and tests. Run
// drains it and hands each message to the handlers subscribed to its topic
// and to wildcard ("*") handlers.
type MemoryBus struct {
	queue    chan memoryMessage
	handlers map[string][]MemoryHandler
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

type memoryMessage struct {
	env domain.Envelope
	id  string
}

// NewMemoryBus creates a bus with the given buffer size.
func NewMemoryBus(bufferSize int, logger *slog.Logger) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		queue:    make(chan memoryMessage, bufferSize),
		handlers: make(map[string][]MemoryHandler),
		logger:   logger,
	}
}

// Send enqueues a message. A full queue blocks up to 10 seconds, or until
// ctx is done, before failing.
func (b *MemoryBus) Send(ctx context.Context, topic string, message []byte) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", ErrBusClosed
	}

	msg := memoryMessage{
		env: domain.Envelope{Topic: topic, Message: append([]byte(nil), message...)},
		id:  uuid.NewString(),
	}

	select {
	case b.queue <- msg:
		return msg.id, nil
	default:
	}

	b.logger.Warn("memory bus full, waiting", "topic", topic)
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case b.queue <- msg:
		return msg.id, nil
	case <-timer.C:
		return "", errors.New("memory bus full for 10s")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe registers h for topic. "*" receives every topic.
func (b *MemoryBus) Subscribe(topic string, h MemoryHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Run dispatches queued messages until ctx is done or the bus is closed.
func (b *MemoryBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(ctx, msg)
		}
	}
}

func (b *MemoryBus) dispatch(ctx context.Context, msg memoryMessage) {
	b.mu.RLock()
	hs := append(append([]MemoryHandler(nil), b.handlers[msg.env.Topic]...), b.handlers["*"]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		b.logger.Debug("no subscriber for topic", "topic", msg.env.Topic)
		return
	}
	rec := domain.Record{ID: msg.id, Message: msg.env.Message}
	for _, h := range hs {
		h(ctx, rec, msg.env.Topic)
	}
}

// Close stops accepting messages. Run returns once the queue is drained.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
}
