// Package processor runs the continuous broadcast loop: once per tick it
// takes the most recently submitted raw event, normalizes it, records it in
// history and pushes it to subscribers.
//
// Only the newest submission per tick is processed. A submission overtaken
// by a newer one before the next tick is dropped, and the slot is emptied as
// it is read so the same event is never re-broadcast on later ticks.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alarm-gateway/internal/data"
	"alarm-gateway/internal/metrics"
	"alarm-gateway/internal/storage"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval = time.Second

	EventProcessedData = "processed_data"
)

// Broadcaster delivers an event to every live subscriber.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// ProcessingError wraps any failure inside a tick. The loop logs it and
// carries on with the next tick.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing tick: %v", e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Slot holds the latest submitted raw event.
type Slot struct {
	mu    sync.Mutex
	event data.RawEvent
}

// Set replaces whatever is in the slot.
func (s *Slot) Set(raw data.RawEvent) {
	s.mu.Lock()
	s.event = raw
	s.mu.Unlock()
}

// Take empties the slot and returns what it held.
func (s *Slot) Take() (data.RawEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := s.event
	s.event = nil
	return raw, raw != nil
}

func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event != nil
}

type Processor struct {
	builder     *data.Builder
	store       *storage.HistoryStore
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	interval    time.Duration

	slot Slot

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*Processor)

func WithInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

func New(builder *data.Builder, store *storage.HistoryStore, broadcaster Broadcaster, opts ...Option) *Processor {
	p := &Processor{
		builder:     builder,
		store:       store,
		broadcaster: broadcaster,
		logger:      zerolog.Nop(),
		interval:    DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit makes raw the event for the next tick, replacing any event not yet
// consumed.
func (p *Processor) Submit(raw data.RawEvent) {
	p.slot.Set(raw)
	if p.metrics != nil {
		p.metrics.EventsReceived.Inc()
	}
}

func (p *Processor) Pending() bool {
	return p.slot.Pending()
}

// Start launches the loop. Calling Start on a running processor does nothing.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, p.done)

	p.logger.Info().Dur("interval", p.interval).Msg("broadcast loop started")
}

// Stop signals the loop and waits for it to exit. A tick in progress is
// allowed to finish; nothing is broadcast after Stop returns.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	<-p.done
	p.running = false
	p.cancel = nil
	p.done = nil

	p.logger.Info().Msg("broadcast loop stopped")
}

func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error().Err(err).Msg("error in continuous processing")
			}
		}
	}
}

// ProcessOnce runs a single tick. It reports whether an event was consumed.
func (p *Processor) ProcessOnce(ctx context.Context) (processed bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	raw, ok := p.slot.Take()
	if !ok {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil && p.metrics != nil {
			p.metrics.TickErrors.Inc()
		}
	}()

	rec, err := p.builder.Build(raw)
	if err != nil {
		return false, &ProcessingError{Err: err}
	}

	p.store.Append(*rec)
	p.broadcaster.Broadcast(EventProcessedData, rec)

	if p.metrics != nil {
		p.metrics.RecordsProcessed.Inc()
		p.metrics.HistorySize.Set(float64(p.store.Len()))
	}

	p.logger.Debug().
		Str("timestamp", rec.Timestamp).
		Str("device_id", rec.DeviceID).
		Str("status", rec.Status).
		Msg("record broadcast")

	return true, nil
}
