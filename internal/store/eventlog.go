package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/lingua-labs/internal/domain"
)

// EventLogConfig controls the asynchronous event writer.
type EventLogConfig struct {
	Enabled   bool
	QueueSize int
}

// EventLog writes events to a Repository from a background goroutine.
// Log never blocks and never fails; problems are only logged.
type EventLog struct {
	repo    Repository
	logger  *slog.Logger
	enabled bool

	queue chan domain.Event
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewEventLog starts the writer. A disabled log accepts and drops events.
func NewEventLog(repo Repository, cfg EventLogConfig, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	l := &EventLog{
		repo:    repo,
		logger:  logger,
		enabled: cfg.Enabled && repo != nil,
		queue:   make(chan domain.Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	if l.enabled {
		go l.run()
	} else {
		close(l.done)
	}
	return l
}

// Log enqueues an event. payload is encoded as JSON.
func (l *EventLog) Log(kind string, payload any) {
	if !l.enabled {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("Event payload not encodable", "kind", kind, "error", err)
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- domain.Event{Kind: kind, Payload: data, CreatedAt: time.Now()}:
	default:
		l.logger.Warn("Event log queue full, dropping event", "kind", kind)
	}
}

func (l *EventLog) run() {
	defer close(l.done)
	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.repo.AppendEvent(ctx, &event); err != nil {
			l.logger.Error("Failed to append event", "kind", event.Kind, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *EventLog) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		if l.enabled {
			close(l.queue)
		}
		l.mu.Unlock()
	})
	<-l.done
	return nil
}
