package listy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/listycity/pkg/log"
)

// Option configures optional behavior of Listy.
type Option func(*options)

// options holds the optional configuration for a Listy instance.
type options struct {
	logger       log.Logger
	notifier     Notifier
	eventHandler EventHandler
	store        RemoteStore
	registerer   prometheus.Registerer
	listeners    []ListListener
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier sets where user notices go.
// If not provided, notices are dropped.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithEventHandler sets a handler for listy events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithStore uses store instead of opening one from Config.Store.
// The caller keeps ownership; Close does not close it.
func WithStore(store RemoteStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPrometheus registers synchronizer metrics on reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithListListener registers l before the first snapshot can arrive.
func WithListListener(l ListListener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}
