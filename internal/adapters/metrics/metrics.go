// Package metrics exports synchronizer activity as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/listycity/internal/app"
)

const namespace = "listycity"

// Collector implements app.SyncEventEmitter and app.EventEmitter.
type Collector struct {
	snapshots    prometheus.Counter
	records      prometheus.Gauge
	malformed    prometheus.Counter
	remoteErrors *prometheus.CounterVec
	subscribed   prometheus.Gauge
}

// New creates a collector. Its metrics are exported once Register is called.
func New() *Collector {
	return &Collector{
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots applied to the local list.",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Records in the list after the last snapshot.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_documents_total",
			Help:      "Snapshot documents skipped for missing fields.",
		}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_errors_total",
			Help:      "Failed remote store operations.",
		}, []string{"op"}),
		subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribed",
			Help:      "1 while the synchronizer holds a subscription.",
		}),
	}
}

// Register registers the collector's metrics on reg. Registering twice on
// the same registry is not an error.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.snapshots, c.records, c.malformed, c.remoteErrors, c.subscribed} {
		if err := reg.Register(m); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// OnSnapshotApplied implements app.SyncEventEmitter.
func (c *Collector) OnSnapshotApplied(kept, skipped int) {
	c.snapshots.Inc()
	c.records.Set(float64(kept))
	c.malformed.Add(float64(skipped))
}

// OnRemoteError implements app.SyncEventEmitter.
func (c *Collector) OnRemoteError(op string, err error) {
	c.remoteErrors.WithLabelValues(op).Inc()
}

// OnStateChange implements app.EventEmitter.
func (c *Collector) OnStateChange(previous, current app.State, reason string) {
	if current == app.StateSubscribed {
		c.subscribed.Set(1)
		return
	}
	c.subscribed.Set(0)
}

var (
	_ app.SyncEventEmitter = (*Collector)(nil)
	_ app.EventEmitter     = (*Collector)(nil)
)
