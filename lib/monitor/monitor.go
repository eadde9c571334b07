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

// Package monitor implements the beacon inbox behind the control API's
// /monitor endpoints: peered openlinkd instances report in periodically,
// stale instances are soft-cleaned up, and alerts are capped at the last
// N entries.
package monitor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/raywonder/openlink/lib/defaults"
)

// Instance is a single reporting peer instance.
type Instance struct {
	ID       string
	Hostname string
	Version  string
	LastSeen time.Time
	Metadata map[string]string
}

// Alert is an operator-visible event raised by a reporting instance.
type Alert struct {
	InstanceID string
	Message    string
	Severity   string
	At         time.Time
}

// Inbox collects beacon reports and alerts from peered instances.
type Inbox struct {
	clock clockwork.Clock

	mu        sync.Mutex
	instances map[string]*Instance
	alerts    []Alert
}

// New constructs an Inbox.
func New(clock clockwork.Clock) *Inbox {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Inbox{clock: clock, instances: make(map[string]*Instance)}
}

// Report records or refreshes a beacon from instanceID.
func (m *Inbox) Report(instanceID, hostname, version string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instanceID] = &Instance{
		ID:       instanceID,
		Hostname: hostname,
		Version:  version,
		LastSeen: m.clock.Now(),
		Metadata: metadata,
	}
}

// RaiseAlert appends an alert, trimming the log to the most recent
// MonitorMaxAlerts entries.
func (m *Inbox) RaiseAlert(instanceID, message, severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, Alert{
		InstanceID: instanceID,
		Message:    message,
		Severity:   severity,
		At:         m.clock.Now(),
	})
	if len(m.alerts) > defaults.MonitorMaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-defaults.MonitorMaxAlerts:]
	}
}

// Instances returns a snapshot of all currently tracked instances.
func (m *Inbox) Instances() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, i := range m.instances {
		out = append(out, i)
	}
	return out
}

// Alerts returns a snapshot of the alert log, most recent last.
func (m *Inbox) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// RemoveInstance explicitly forgets instanceID.
func (m *Inbox) RemoveInstance(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}

// CleanupStale forgets instances that have not reported within
// MonitorStaleAfter.
func (m *Inbox) CleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, inst := range m.instances {
		if now.Sub(inst.LastSeen) > defaults.MonitorStaleAfter {
			delete(m.instances, id)
		}
	}
}
