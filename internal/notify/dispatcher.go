// Package notify fans alerts out to notification channels. Each channel has
// its own minimum severity and fails independently of the others.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/internal/metrics"
	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.Alert) error
	Name() string
}

// Channel pairs a sink with its severity floor.
type Channel struct {
	Sink        Sink
	MinSeverity types.Severity
}

// Dispatcher routes alerts to configured channels.
type Dispatcher struct {
	channels  []Channel
	callbacks []func(types.Alert)
	logger    *slog.Logger
}

// Option configures how NewDispatcher builds sinks.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	console io.Writer
	http    *http.Client
	sqs     SQSAPI
	mailer  Mailer
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConsoleWriter redirects the console channel.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithHTTPClient sets the client used by webhook channels.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.http = c }
}

// WithSQS sets the client used by SQS channels.
func WithSQS(c SQSAPI) Option {
	return func(o *options) { o.sqs = c }
}

// WithMailer sets the function used by email channels to submit mail.
func WithMailer(m Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// New creates a dispatcher over prepared channels.
func New(logger *slog.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{channels: channels, logger: logger.With("component", "notify")}
}

// NewDispatcher creates a dispatcher from channel configs.
func NewDispatcher(configs []types.ChannelConfig, opts ...Option) (*Dispatcher, error) {
	o := options{logger: slog.Default(), console: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}
	var channels []Channel
	for _, cfg := range configs {
		sink, err := newSink(cfg, o)
		if err != nil {
			return nil, fmt.Errorf("creating %s channel: %w", cfg.Type, err)
		}
		channels = append(channels, Channel{Sink: sink, MinSeverity: cfg.MinSeverity})
	}
	return New(o.logger, channels...), nil
}

// OnAlert registers a callback invoked after the channels for every
// dispatched alert. Callback panics are recovered and logged.
func (d *Dispatcher) OnAlert(fn func(types.Alert)) {
	d.callbacks = append(d.callbacks, fn)
}

// Channels returns the configured channels.
func (d *Dispatcher) Channels() []Channel {
	return d.channels
}

// Dispatch sends alert to every channel whose floor it meets.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) {
	for _, ch := range d.channels {
		if alert.Severity < ch.MinSeverity {
			continue
		}
		d.send(ctx, ch.Sink, alert)
	}
	for _, fn := range d.callbacks {
		d.callback(fn, alert)
	}
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, alert types.Alert) {
	attrs := metric.WithAttributes(attribute.String("channel", sink.Name()))
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationsFailed.Add(ctx, 1, attrs)
			d.logger.Error("notification channel panicked", "channel", sink.Name(), "panic", r)
		}
	}()
	if err := sink.Send(ctx, alert); err != nil {
		metrics.NotificationsFailed.Add(ctx, 1, attrs)
		d.logger.Error("error sending alert", "channel", sink.Name(), "rule", alert.RuleName, "error", err)
		return
	}
	metrics.NotificationsSent.Add(ctx, 1, attrs)
}

func (d *Dispatcher) callback(fn func(types.Alert), alert types.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert callback panicked", "panic", r)
		}
	}()
	fn(alert)
}

func newSink(cfg types.ChannelConfig, o options) (Sink, error) {
	switch cfg.Type {
	case types.ChannelConsole:
		return NewConsoleSink(o.console), nil
	case types.ChannelFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.ChannelWebhook:
		if len(cfg.Endpoints) == 0 {
			return nil, fmt.Errorf("at least one webhook endpoint required")
		}
		return NewWebhookSink(cfg.Endpoints, cfg.Timeout, o.http), nil
	case types.ChannelEmail:
		return NewEmailSink(cfg, o.mailer)
	case types.ChannelSQS:
		var sqsOpts []SQSSinkOption
		if o.sqs != nil {
			sqsOpts = append(sqsOpts, WithSQSClient(o.sqs))
		}
		return NewSQSSink(cfg.QueueURL, sqsOpts...)
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}
