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

// Package defaults holds the timeouts, TTLs, and other constants shared
// across the signaling server and domain broker.
package defaults

import "time"

// Privileged exec channel timeouts (spec §4.A).
const (
	ExecConnectTimeout  = 10 * time.Second
	ExecLocalOpTimeout  = 30 * time.Second
	ExecRemoteOpTimeout = 60 * time.Second
)

// Session registry (spec §3, §5).
const (
	SessionIdleTTL    = time.Hour
	PeerPingInterval  = 90 * time.Second
	SessionReapPeriod = time.Minute
)

// Domain broker (spec §3, §4.E, §5).
const (
	MaxDomainLife        = 24 * time.Hour
	MaxPermitDuration    = 7 * 24 * time.Hour
	DefaultTempURLTTL    = 15 * time.Minute
	DomainReapPeriod     = 15 * time.Minute
	ExistenceCacheFresh  = 5 * time.Minute
	ExistenceCacheMaxAge = 30 * time.Minute
)

// Monitor beacon inbox (spec §4.I).
const (
	MonitorBeaconPeriod = 5 * time.Second
	MonitorStaleAfter   = 5 * time.Minute
	MonitorMaxAlerts    = 100
)

// Port allocation range (spec §3, §6).
const (
	DefaultPortRangeMin = 8000
	DefaultPortRangeMax = 8999
)

// Kick grace period (spec §4.H scenario 2).
const KickCloseDelay = 500 * time.Millisecond

// ServerVersion is reported in the peer welcome message and /health.
const ServerVersion = "2.0.0"

// DefaultBindAddr is used when no bind address is configured.
const DefaultBindAddr = "0.0.0.0:3478"
