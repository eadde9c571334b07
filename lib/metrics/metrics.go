/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus collectors exported by
// openlinkd: connection counts, session counts, and domain broker
// gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every gauge/counter openlinkd exports.
type Collectors struct {
	ConnectedPeers  prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	ActiveDomains   prometheus.Gauge
	ActivePermits   prometheus.Gauge
	ActiveTempURLs  prometheus.Gauge
	SignalingFrames prometheus.Counter
	DomainRequests  *prometheus.CounterVec
}

// New constructs and registers Collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openlink",
			Name:      "connected_peers",
			Help:      "Number of currently connected duplex-message peers.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openlink",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in the registry.",
		}),
		ActiveDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openlink",
			Name:      "active_domains",
			Help:      "Number of currently active domain records.",
		}),
		ActivePermits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openlink",
			Name:      "active_permits",
			Help:      "Number of currently valid permits.",
		}),
		ActiveTempURLs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openlink",
			Name:      "active_temp_urls",
			Help:      "Number of currently valid temporary URLs.",
		}),
		SignalingFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openlink",
			Name:      "signaling_frames_total",
			Help:      "Total number of inbound duplex-channel frames processed.",
		}),
		DomainRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openlink",
			Name:      "domain_requests_total",
			Help:      "Total domain requests, labeled by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.ConnectedPeers,
			c.ActiveSessions,
			c.ActiveDomains,
			c.ActivePermits,
			c.ActiveTempURLs,
			c.SignalingFrames,
			c.DomainRequests,
		)
	}
	return c
}
