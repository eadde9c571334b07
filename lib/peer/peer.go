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

// Package peer implements the peer connection manager (component G):
// accepting duplex-message channels, assigning connection IDs, parsing
// client fingerprints, and forwarding inbound frames to the signaling
// dispatcher.
package peer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Role is a peer's role within its current session, if any.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleHost    Role = "host"
	RoleClient  Role = "client"
)

// Status is the lifecycle status of a duplex channel.
type Status string

const (
	StatusConnected Status = "connected"
	StatusClosing   Status = "closing"
)

// ClientInfo is the parsed or self-reported fingerprint of a peer.
type ClientInfo struct {
	Platform   string
	OS         string
	Arch       string
	Locale     string
	AppVersion string
}

// Peer is a single accepted duplex-message connection.
type Peer struct {
	mu sync.Mutex

	ConnID        string
	conn          *websocket.Conn
	outbound      chan []byte
	SessionID     string
	Role          Role
	Status        Status
	FirstSeen     time.Time
	LastSeen      time.Time
	LastPing      time.Time
	RemoteAddr    string
	Info          ClientInfo
	SubdomainHint string
	WalletFP      string
	MachineID     string
}

// newPeer constructs a Peer wrapping conn, with a bounded outbound queue
// to isolate one slow peer's backpressure from the rest of the session.
func newPeer(connID string, conn *websocket.Conn, remoteAddr string, now time.Time) *Peer {
	return &Peer{
		ConnID:     connID,
		conn:       conn,
		outbound:   make(chan []byte, 64),
		Role:       RoleUnknown,
		Status:     StatusConnected,
		FirstSeen:  now,
		LastSeen:   now,
		RemoteAddr: remoteAddr,
	}
}

// Send enqueues a frame for delivery, in the order Send was called. If
// the outbound queue is full the peer is considered unresponsive and the
// frame is dropped rather than blocking the caller (which may be holding
// a session lock).
func (p *Peer) Send(frame []byte) bool {
	select {
	case p.outbound <- frame:
		return true
	default:
		return false
	}
}

// pumpWrites drains the outbound queue to the underlying connection.
// Runs on its own goroutine for the lifetime of the peer.
func (p *Peer) pumpWrites() {
	for frame := range p.outbound {
		if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// Close closes the underlying connection and stops delivery. Calls after
// the first are no-ops.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.Status == StatusClosing {
		p.mu.Unlock()
		return nil
	}
	p.Status = StatusClosing
	p.mu.Unlock()
	close(p.outbound)
	return p.conn.Close()
}

// Touch updates LastSeen to now; called on every inbound frame.
func (p *Peer) Touch(now time.Time) {
	p.mu.Lock()
	p.LastSeen = now
	p.mu.Unlock()
}

// TouchPing updates LastPing to now.
func (p *Peer) TouchPing(now time.Time) {
	p.mu.Lock()
	p.LastPing = now
	p.mu.Unlock()
}

// StaleSince reports how long it has been since this peer last sent any
// frame, as of now.
func (p *Peer) StaleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.LastSeen)
}
