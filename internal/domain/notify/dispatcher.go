package notify

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const flushTimeout = 5 * time.Second

var _ Publisher = (*Dispatcher)(nil)

// Dispatcher is a bounded in-process queue in front of a list of sinks.
type Dispatcher struct {
	queue chan Event
	sinks []Sink
	lg    *zap.Logger
	now   func() time.Time

	dropped   metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// NewDispatcher creates a Dispatcher with room for size pending events.
// A nil meter provider disables metrics.
func NewDispatcher(lg *zap.Logger, mp metric.MeterProvider, size int, sinks ...Sink) (*Dispatcher, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/campeche/checkout/internal/domain/notify")

	d := &Dispatcher{
		queue: make(chan Event, size),
		sinks: sinks,
		lg:    lg,
		now:   time.Now,
	}
	var err error
	if d.dropped, err = meter.Int64Counter("notify.dropped",
		metric.WithDescription("Events dropped because the queue was full"),
	); err != nil {
		return nil, err
	}
	if d.delivered, err = meter.Int64Counter("notify.delivered"); err != nil {
		return nil, err
	}
	if d.failed, err = meter.Int64Counter("notify.failed"); err != nil {
		return nil, err
	}
	return d, nil
}

// Publish enqueues e without blocking. When the queue is full the event is
// dropped and logged.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.now()
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(ctx, 1)
		d.lg.Warn("Notification queue full, dropping event",
			zap.String("type", string(e.Type)),
			zap.Int64("user_id", e.UserID),
		)
	}
}

// Run delivers queued events until ctx is done, then flushes what is left
// with a bounded timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		case <-ctx.Done():
			d.flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

// deliver hands e to every sink. The event counts as delivered when at least
// one sink accepted it.
func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	var accepted bool
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			d.failed.Add(ctx, 1)
			d.lg.Error("Deliver notification",
				zap.String("type", string(e.Type)),
				zap.Int64("user_id", e.UserID),
				zap.Error(err),
			)
			continue
		}
		accepted = true
	}
	if !accepted {
		d.lg.Warn("Notification lost, no sink accepted it",
			zap.String("type", string(e.Type)),
			zap.Int64("user_id", e.UserID),
		)
		return
	}
	d.delivered.Add(ctx, 1)
}
