// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus counters/gauges for a Bus's traffic.
// Disabled (nil receiver calls are no-ops) until NewMetrics registers
// it against a registry, so a caller that doesn't care about
// observability never pays for it.
type Metrics struct {
	eventsPublished  *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	activeSubscribers prometheus.Gauge
}

// NewMetrics creates and registers a Metrics collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conclave",
			Subsystem: "eventbus",
			Name:      "events_published_total",
			Help:      "Total events published, labeled by event type.",
		}, []string{"event_type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conclave",
			Subsystem: "eventbus",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatch queue was saturated.",
		}),
		activeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conclave",
			Subsystem: "eventbus",
			Name:      "active_subscribers",
			Help:      "Current number of active event subscriptions.",
		}),
	}
	reg.MustRegister(m.eventsPublished, m.eventsDropped, m.activeSubscribers)
	return m
}

func (m *Metrics) observePublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) observeDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) setActiveSubscribers(n int) {
	if m == nil {
		return
	}
	m.activeSubscribers.Set(float64(n))
}
