// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessions          prometheus.Counter
	invalidBatches    prometheus.Counter
	witnessed         prometheus.Counter
	parked            prometheus.Gauge
	delivered         prometheus.Counter
	droppedDeliveries prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Inbound sessions accepted",
		}),
		invalidBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "invalid_batches_total",
			Help:      "Submitted batches that failed verification",
		}),
		witnessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "witnessed_total",
			Help:      "Witness shares produced",
		}),
		parked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "parked",
			Help:      "Batches currently parked awaiting total order",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "delivered_total",
			Help:      "Batches released to the application",
		}),
		droppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pod",
			Subsystem: "server",
			Name:      "dropped_deliveries_total",
			Help:      "Oracle deliveries dropped as malformed or under-certified",
		}),
	}

	collectors := []prometheus.Collector{
		m.sessions,
		m.invalidBatches,
		m.witnessed,
		m.parked,
		m.delivered,
		m.droppedDeliveries,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}
