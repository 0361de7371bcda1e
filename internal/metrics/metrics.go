// Package metrics exposes consensus progress as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "montana"

var reorgDepthBuckets = []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 100}

// Metrics groups all consensus metrics.
type Metrics struct {
	ProofsAccepted  *prometheus.CounterVec
	ProofsRejected  *prometheus.CounterVec
	SlicesAccepted  prometheus.Counter
	SlicesRejected  *prometheus.CounterVec
	SlicesProduced  prometheus.Counter
	Reorgs          prometheus.Counter
	ReorgsRejected  prometheus.Counter
	ReorgDepth      prometheus.Histogram
	Period          prometheus.Gauge
	Height          prometheus.Gauge
	FinalHeight     prometheus.Gauge
	Participants    prometheus.Gauge
	TotalWeight     prometheus.Gauge
	Cooldown        *prometheus.GaugeVec
	ClockDivergence prometheus.Gauge
	ProducerPaused  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ProofsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proofs_accepted_total",
			Help:      "Presence proofs filed into the ledger.",
		}, []string{"class"}),
		ProofsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proofs_rejected_total",
			Help:      "Presence proofs dropped, by error kind.",
		}, []string{"kind"}),
		SlicesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_accepted_total",
			Help:      "Slices that passed validation and entered the head set.",
		}),
		SlicesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_rejected_total",
			Help:      "Slices rejected, by error kind.",
		}, []string{"kind"}),
		SlicesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_produced_total",
			Help:      "Slices built and broadcast by this node.",
		}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_total",
			Help:      "Canonical tip switches to a competing branch.",
		}),
		ReorgsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_rejected_total",
			Help:      "Branch switches refused for depth or finality.",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reorg_depth",
			Help:      "Number of slices rolled back per reorg.",
			Buckets:   reorgDepthBuckets,
		}),
		Period: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "closed_period",
			Help:      "Period of the last slice on the canonical chain.",
		}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_height",
			Help:      "Height of the canonical tip.",
		}),
		FinalHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "final_height",
			Help:      "Height of the latest FINAL slice.",
		}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Registered participants in the ledger.",
		}),
		TotalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_weight",
			Help:      "Sum of all participants' weight.",
		}),
		Cooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cooldown_periods",
			Help:      "Current registration cooldown per class, in periods.",
		}, []string{"class"}),
		ClockDivergence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_divergence_seconds",
			Help:      "Distance between the local clock and the peer median.",
		}),
		ProducerPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "producer_paused",
			Help:      "1 while production is paused for clock divergence.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ProofsAccepted, m.ProofsRejected,
		m.SlicesAccepted, m.SlicesRejected, m.SlicesProduced,
		m.Reorgs, m.ReorgsRejected, m.ReorgDepth,
		m.Period, m.Height, m.FinalHeight,
		m.Participants, m.TotalWeight, m.Cooldown,
		m.ClockDivergence, m.ProducerPaused,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}
