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

package peer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/defaults"
	"github.com/raywonder/openlink/lib/hostextract"
)

// InboundHandler receives each frame read off a peer's channel, in send
// order, and any close notification.
type InboundHandler interface {
	HandleFrame(p *Peer, frame []byte)
	HandleClose(p *Peer)
}

// Config configures a Manager.
type Config struct {
	BaseDomains []string
	Handler     InboundHandler
	Clock       clockwork.Clock
	Log         logrus.FieldLogger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Handler == nil {
		return trace.BadParameter("missing inbound frame handler")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField("component", "peer")
	}
	return nil
}

// Manager accepts duplex-message connections and tracks every live Peer.
type Manager struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*Peer),
	}, nil
}

type welcomeMessage struct {
	Type      string     `json:"type"`
	ConnID    string     `json:"connectionId"`
	Version   string     `json:"serverVersion"`
	Timestamp int64      `json:"timestamp"`
	Detected  ClientInfo `json:"detected"`
}

// Accept upgrades an incoming HTTP request to a duplex channel,
// synthesizes a Peer, sends the welcome message, and starts pumping
// inbound frames to the configured handler until the channel closes.
func (m *Manager) Accept(w http.ResponseWriter, r *http.Request) (*Peer, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, trace.Wrap(err, "upgrading duplex channel")
	}

	now := m.cfg.Clock.Now()
	connID := uuid.NewString()
	p := newPeer(connID, conn, r.RemoteAddr, now)
	p.Info = ParseUserAgent(r.UserAgent())
	if hint, ok := hostextract.FromHeader(r.Host, m.cfg.BaseDomains); ok {
		p.SubdomainHint = hint
	}

	m.mu.Lock()
	m.peers[connID] = p
	m.mu.Unlock()

	go p.pumpWrites()

	welcome := welcomeMessage{
		Type:      "welcome",
		ConnID:    connID,
		Version:   defaults.ServerVersion,
		Timestamp: now.UnixMilli(),
		Detected:  p.Info,
	}
	if payload, err := json.Marshal(welcome); err == nil {
		p.Send(payload)
	}

	go m.pumpReads(p)

	return p, nil
}

func (m *Manager) pumpReads(p *Peer) {
	defer m.evict(p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.Touch(m.cfg.Clock.Now())
		if !json.Valid(data) {
			p.Send(errorFrame("malformed frame"))
			continue
		}
		m.cfg.Handler.HandleFrame(p, data)
	}
}

func (m *Manager) evict(p *Peer) {
	m.mu.Lock()
	delete(m.peers, p.ConnID)
	m.mu.Unlock()
	p.Close()
	m.cfg.Handler.HandleClose(p)
}

// Get returns the peer for connID, if currently connected.
func (m *Manager) Get(connID string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[connID]
	return p, ok
}

// Snapshot returns all currently connected peers.
func (m *Manager) Snapshot() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Count reports the number of currently connected peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// EvictStale force-closes any peer that has not sent a frame within the
// configured staleness window, returning the evicted connection IDs.
func (m *Manager) EvictStale(staleAfter time.Duration) []string {
	now := m.cfg.Clock.Now()
	var staleIDs []string
	for _, p := range m.Snapshot() {
		if p.StaleSince(now) > staleAfter {
			staleIDs = append(staleIDs, p.ConnID)
			m.evict(p)
		}
	}
	return staleIDs
}

func errorFrame(message string) []byte {
	payload, _ := json.Marshal(map[string]string{"type": "error", "message": message})
	return payload
}
