// Package metrics exposes Prometheus counters for the client core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services layer reports to. Nop satisfies it when
// metrics are disabled.
type Recorder interface {
	SubscriptionStarted(collection string)
	SubscriptionReleased(collection string)
	SnapshotDelivered(collection string)
	WriteCompleted(op string, outcome string)
	Transition(from, to string)
}

type Collector struct {
	activeSubscriptions *prometheus.GaugeVec
	snapshots           *prometheus.CounterVec
	writes              *prometheus.CounterVec
	transitions         *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the collector's metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "templatex_active_subscriptions",
			Help: "Live projection subscriptions currently held",
		}, []string{"collection"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "templatex_snapshots_total",
			Help: "Snapshots applied to view state",
		}, []string{"collection"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "templatex_writes_total",
			Help: "Write pipeline submissions by operation and outcome",
		}, []string{"op", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "templatex_screen_transitions_total",
			Help: "Navigation transitions between screens",
		}, []string{"from", "to"}),
	}

	reg.MustRegister(c.activeSubscriptions, c.snapshots, c.writes, c.transitions)
	return c
}

func (c *Collector) SubscriptionStarted(collection string) {
	c.activeSubscriptions.WithLabelValues(collection).Inc()
}

func (c *Collector) SubscriptionReleased(collection string) {
	c.activeSubscriptions.WithLabelValues(collection).Dec()
}

func (c *Collector) SnapshotDelivered(collection string) {
	c.snapshots.WithLabelValues(collection).Inc()
}

func (c *Collector) WriteCompleted(op, outcome string) {
	c.writes.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) Transition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// Handler serves the registry for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Nop struct{}

var _ Recorder = Nop{}

func (Nop) SubscriptionStarted(string)    {}
func (Nop) SubscriptionReleased(string)   {}
func (Nop) SnapshotDelivered(string)      {}
func (Nop) WriteCompleted(string, string) {}
func (Nop) Transition(string, string)     {}
