package limits

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ExpiredHandler receives a cooldown expiry for one key.
type ExpiredHandler func(featureID, scopeKey string)

// EventSink delivers cooldown expiry notifications.
type EventSink interface {
	// OnExpired registers handler and returns a function that removes it.
	OnExpired(handler ExpiredHandler) (unsubscribe func())
}

// Bus is the in-process EventSink used by the engine. Handlers run
// synchronously in registration order on the goroutine that detected the
// expiry; a slow handler delays later handlers but not other keys' timers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]ExpiredHandler
	order    []string
	logger   *slog.Logger
}

var _ EventSink = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]ExpiredHandler),
		logger:   logger.With("component", "limits.events"),
	}
}

// OnExpired registers handler.
func (b *Bus) OnExpired(handler ExpiredHandler) func() {
	id := uuid.NewString()

	b.mu.Lock()
	b.handlers[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// PublishExpired calls every handler with the expired key. A panicking
// handler is logged and does not stop delivery to the rest.
func (b *Bus) PublishExpired(featureID, scopeKey string) {
	b.mu.RLock()
	handlers := make([]ExpiredHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, featureID, scopeKey)
	}
}

func (b *Bus) deliver(h ExpiredHandler, featureID, scopeKey string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("expired handler panicked",
				"feature", featureID,
				"scope", scopeKey,
				"panic", r,
			)
		}
	}()
	h(featureID, scopeKey)
}

// NewLogSubscriber returns a handler that logs every expiry at info level.
func NewLogSubscriber(logger *slog.Logger) ExpiredHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(featureID, scopeKey string) {
		logger.Info("cooldown expired",
			"feature", featureID,
			"scope", scopeKey,
		)
	}
}
