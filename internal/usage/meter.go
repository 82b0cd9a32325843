package usage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 2
	defaultWriteTimeout = 2 * time.Second
	errorLogInterval    = 10 * time.Second
)

type event struct {
	identity string
	service  string
	method   string
	at       time.Time
}

// Meter accepts usage events without blocking and persists them from a
// pool of background workers. Store failures are logged and otherwise
// ignored.
type Meter struct {
	store        Store
	logger       observability.Logger
	now          func() time.Time
	queueSize    int
	workers      int
	writeTimeout time.Duration

	queue     chan event
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	logLimit  *rate.Limiter
	closeOnce sync.Once
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithQueueSize sets how many events may wait for a worker.
func WithQueueSize(n int) MeterOption {
	return func(m *Meter) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithWorkers sets the number of background workers.
func WithWorkers(n int) MeterOption {
	return func(m *Meter) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) MeterOption {
	return func(m *Meter) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) MeterOption {
	return func(m *Meter) {
		m.logger = logger
	}
}

// WithClock sets the time source used to date events.
func WithClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		m.now = now
	}
}

// NewMeter creates a meter and starts its workers.
func NewMeter(store Store, opts ...MeterOption) *Meter {
	m := &Meter{
		store:        store,
		logger:       observability.NopLogger(),
		now:          time.Now,
		queueSize:    defaultQueueSize,
		workers:      defaultWorkers,
		writeTimeout: defaultWriteTimeout,
		logLimit:     rate.NewLimiter(rate.Every(errorLogInterval), 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.queue = make(chan event, m.queueSize)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work()
	}

	return m
}

// Record queues one call. It never blocks; when the queue is full the
// event is dropped and ErrQueueFull is returned.
func (m *Meter) Record(identity, service, method string) error {
	ev := event{identity: identity, service: service, method: method, at: m.now()}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		eventsTotal.WithLabelValues(outcomeDropped).Inc()
		return ErrMeterClosed
	}

	select {
	case m.queue <- ev:
		queueDepth.Inc()
		return nil
	default:
		eventsTotal.WithLabelValues(outcomeDropped).Inc()
		m.logThrottled("usage event dropped", ErrQueueFull,
			observability.String("service", service))
		return ErrQueueFull
	}
}

// Usage returns the identity's counts for the current UTC day.
func (m *Meter) Usage(ctx context.Context, identity string) (Counts, time.Time, error) {
	day := m.now().UTC()
	counts, err := m.store.Counts(ctx, identity, day)
	return counts, day, err
}

// Store returns the underlying store.
func (m *Meter) Store() Store {
	return m.store
}

// Close stops accepting events and waits for queued ones to be written,
// or for ctx to end.
func (m *Meter) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Meter) work() {
	defer m.wg.Done()

	for ev := range m.queue {
		queueDepth.Dec()
		m.persist(ev)
	}
}

func (m *Meter) persist(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	if err := m.store.Increment(ctx, ev.identity, ev.service, ev.method, ev.at); err != nil {
		eventsTotal.WithLabelValues(outcomeFailed).Inc()
		m.logThrottled("failed to record usage", err,
			observability.String("service", ev.service))
		return
	}
	eventsTotal.WithLabelValues(outcomeRecorded).Inc()
}

func (m *Meter) logThrottled(msg string, err error, fields ...observability.Field) {
	if !m.logLimit.Allow() {
		return
	}
	m.logger.Warn(msg, append(fields, observability.Error(err))...)
}
