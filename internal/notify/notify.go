package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qms/token-service/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	EventTokenCreated   = "token.created"
	EventTokenServing   = "token.serving"
	EventTokenCompleted = "token.completed"
	EventSeriesReset    = "series.reset"
	EventDeskClosed     = "desk.closed"
	EventServiceClosed  = "service.closed"
)

// Event is a state change pushed to display boards and downstream consumers
// after the owning transaction has committed.
type Event struct {
	Type       string          `json:"type"`
	BranchID   string          `json:"branch_id"`
	DeskID     string          `json:"desk_id,omitempty"`
	ServiceID  string          `json:"service_id,omitempty"`
	Token      *models.Token   `json:"token,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(event Event)
}

// Publisher delivers one event to a sink such as Redis or the in-process hub.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_notify_events_total",
		Help: "Notification events by outcome",
	}, []string{"outcome"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "token_notify_queue_depth",
		Help: "Events waiting in the notification buffer",
	})
)

type Config struct {
	Buffer         int
	PublishTimeout time.Duration
}

// Dispatcher fans events out to its publishers from a single goroutine fed by
// a bounded channel. Notify drops the event when the channel is full.
type Dispatcher struct {
	logger     *zap.Logger
	publishers []Publisher
	events     chan Event
	timeout    time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(logger *zap.Logger, cfg Config, publishers ...Publisher) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		logger:     logger,
		publishers: publishers,
		events:     make(chan Event, buffer),
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	select {
	case <-d.done:
		eventsTotal.WithLabelValues("dropped").Inc()
		return
	default:
	}
	select {
	case d.events <- event:
		eventsTotal.WithLabelValues("queued").Inc()
		queueDepth.Set(float64(len(d.events)))
	default:
		eventsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification buffer full, event dropped",
			zap.String("type", event.Type),
			zap.String("branch_id", event.BranchID))
	}
}

// Run drains the buffer until ctx is cancelled or Close is called. Events
// still buffered at that point are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-ctx.Done():
			d.drain()
			return
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	queueDepth.Set(float64(len(d.events)))
	for _, publisher := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := publisher.Publish(ctx, event)
		cancel()
		if err != nil {
			eventsTotal.WithLabelValues("failed").Inc()
			d.logger.Warn("notification publish failed",
				zap.String("type", event.Type),
				zap.String("branch_id", event.BranchID),
				zap.Error(err))
			continue
		}
		eventsTotal.WithLabelValues("published").Inc()
	}
}
