package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder persists a single audit event.
type Recorder interface {
	Insert(ctx context.Context, event *Event) error
}

const (
	defaultQueueSize = 1024
	insertTimeout    = 5 * time.Second
)

// Sink accepts audit events and persists them from a background worker.
// Record never blocks the request path and never returns an error: a full
// queue drops the event with an operational log line, and persistence
// failures are logged, not propagated.
type Sink struct {
	recorder Recorder
	logger   *slog.Logger

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSink constructs a Sink and starts its worker. queueSize <= 0 selects the
// default capacity.
func NewSink(recorder Recorder, logger *slog.Logger, queueSize int) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Sink{
		recorder: recorder,
		logger:   logger,
		queue:    make(chan Event, queueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record submits an event for persistence, fire and forget. The event is
// sanitized (control characters stripped, fields truncated, sensitive
// metadata redacted) before it is queued.
func (s *Sink) Record(event Event) {
	sanitizeEvent(&event)
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("audit queue full, dropping event",
			slog.String("action", event.Action),
			slog.String("path", event.Path),
		)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()
	for event := range s.queue {
		s.persist(event)
	}
}

func (s *Sink) persist(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := s.recorder.Insert(ctx, &event); err != nil {
		s.logger.Error("persist audit event",
			slog.String("action", event.Action),
			slog.Any("error", err),
		)
	}
}
