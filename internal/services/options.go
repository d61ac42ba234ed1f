package services

import (
	"time"

	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/metrics"
)

// Option configures a service
type Option func(*serviceOptions)

type serviceOptions struct {
	now       func() time.Time
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithPublisher sets where post-commit events are sent
func WithPublisher(p events.Publisher) Option {
	return func(o *serviceOptions) { o.publisher = p }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

func applyOptions(opts []Option) serviceOptions {
	o := serviceOptions{
		now:       func() time.Time { return time.Now().UTC() },
		publisher: events.Noop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = events.Noop{}
	}
	return o
}
