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

package signaling

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/defaults"
	"github.com/raywonder/openlink/lib/peer"
	"github.com/raywonder/openlink/lib/session"
)

const linkIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// PeerSource resolves a connection ID to its live Peer, so the
// dispatcher can deliver frames without owning connection state itself.
type PeerSource interface {
	Get(connID string) (*peer.Peer, bool)
}

// Config configures a Dispatcher.
type Config struct {
	Registry *session.Registry
	Peers    PeerSource
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField("component", "signaling")
	}
	return nil
}

// Dispatcher interprets inbound envelopes and mutates the session
// registry, per the state table in spec §4.H.
type Dispatcher struct {
	cfg Config
}

// New constructs a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Dispatcher{cfg: cfg}, nil
}

// HandleFrame implements peer.InboundHandler.
func (d *Dispatcher) HandleFrame(p *peer.Peer, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.sendError(p, "", "malformed frame")
		return
	}
	verb := normalizeVerb(env.Type)

	switch verb {
	case "create_session", "host_session":
		d.handleHostSession(p, &env, verb)
	case "join":
		d.handleJoin(p, &env)
	case "leave":
		d.handleLeave(p)
	case "change-session-id":
		d.handleChangeSessionID(p, &env)
	case "update-settings":
		d.handleUpdateSettings(p, &env)
	case "update-password":
		d.handleUpdatePassword(p, &env)
	case "kick-client":
		d.handleKick(p, &env)
	case "regenerate-link":
		d.handleRegenerateLink(p, &env)
	case "offer", "answer", "ice-candidate":
		d.handleForward(p, &env, verb)
	case "broadcast":
		d.handleBroadcast(p, &env)
	case "ping":
		d.handlePing(p)
	default:
		d.sendError(p, env.RequestID, "unknown message type: "+env.Type)
	}
}

// HandleClose implements peer.InboundHandler.
func (d *Dispatcher) HandleClose(p *peer.Peer) {
	d.handleLeave(p)
}

func (d *Dispatcher) now() int64 { return d.cfg.Clock.Now().UnixMilli() }

func (d *Dispatcher) sendError(p *peer.Peer, requestID, message string) {
	d.sendTo(p, "error", map[string]interface{}{"requestId": requestID, "error": message})
}

func (d *Dispatcher) sendTo(p *peer.Peer, typ string, fields map[string]interface{}) {
	frame := outboundFrame(typ, fields, d.now())
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	p.Send(payload)
}

func generateLinkID() string {
	b := make([]byte, 8)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(linkIDAlphabet))))
		if err != nil {
			b[i] = linkIDAlphabet[0]
			continue
		}
		b[i] = linkIDAlphabet[n.Int64()]
	}
	return string(b)
}

// handleHostSession creates a fresh session (optionally under a
// caller-supplied link ID) with p as host.
func (d *Dispatcher) handleHostSession(p *peer.Peer, env *Envelope, verb string) {
	var req struct {
		LinkID string `json:"linkId"`
	}
	env.Field("linkId", &req.LinkID)

	id := req.LinkID
	if id == "" {
		id = generateLinkID()
	}
	id = strings.ToLower(id)

	s, err := d.cfg.Registry.Create(id, d.cfg.Clock.Now())
	if err != nil {
		// Collision on a generated ID is retried once with a fresh ID.
		if req.LinkID == "" {
			id = generateLinkID()
			s, err = d.cfg.Registry.Create(id, d.cfg.Clock.Now())
		}
		if err != nil {
			d.sendError(p, env.RequestID, err.Error())
			return
		}
	}

	s.Lock()
	s.HostConnID = p.ConnID
	s.Unlock()
	p.SessionID = id
	p.Role = peer.RoleHost

	d.sendTo(p, "session_created", map[string]interface{}{
		"requestId": env.RequestID,
		"sessionId": id,
	})
}

// handleJoin attaches p as a client of the named session.
func (d *Dispatcher) handleJoin(p *peer.Peer, env *Envelope) {
	var req struct {
		LinkID   string `json:"linkId"`
		Password string `json:"password"`
	}
	env.Field("linkId", &req.LinkID)
	env.Field("password", &req.Password)

	id := strings.ToLower(req.LinkID)
	s, err := d.cfg.Registry.Get(id)
	if err != nil {
		d.sendTo(p, "join_error", map[string]interface{}{"error": "Session not found"})
		return
	}

	s.Lock()
	if !s.HasHost() {
		s.Unlock()
		d.sendTo(p, "join_error", map[string]interface{}{"error": "No host connected"})
		return
	}
	if s.Settings.Password != "" && s.Settings.Password != req.Password {
		s.Unlock()
		d.sendTo(p, "join_error", map[string]interface{}{"error": "Invalid password"})
		return
	}
	s.ClientConns[p.ConnID] = struct{}{}
	s.Stats.TotalJoins++
	s.LastActive = d.cfg.Clock.Now()
	hostConnID := s.HostConnID
	clientCount := s.ClientCount()
	s.Unlock()

	p.SessionID = id
	p.Role = peer.RoleClient

	d.sendTo(p, "joined", map[string]interface{}{"hostConnectionId": hostConnID})

	if host, ok := d.cfg.Peers.Get(hostConnID); ok {
		d.sendTo(host, "client_joined", map[string]interface{}{
			"clientConnectionId": p.ConnID,
			"clientCount":        clientCount,
		})
	}
}

// handleLeave removes p from its current session, broadcasting
// peer_left, and GC's the session if it is now empty and past TTL is the
// registry's concern (handled by the periodic reaper).
func (d *Dispatcher) handleLeave(p *peer.Peer) {
	if p.SessionID == "" {
		return
	}
	s, err := d.cfg.Registry.Get(p.SessionID)
	if err != nil {
		return
	}

	s.Lock()
	wasHost := s.HostConnID == p.ConnID
	if wasHost {
		s.HostConnID = ""
	} else {
		delete(s.ClientConns, p.ConnID)
	}
	recipients := d.sessionPeerIDsLocked(s, p.ConnID)
	s.Unlock()

	for _, connID := range recipients {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			d.sendTo(other, "peer_left", map[string]interface{}{"peerId": p.ConnID})
		}
	}
	p.SessionID = ""
	p.Role = peer.RoleUnknown
}

// sessionPeerIDsLocked returns every peer connection ID in s other than
// exclude. Caller must hold s's lock.
func (d *Dispatcher) sessionPeerIDsLocked(s *session.Session, exclude string) []string {
	var ids []string
	if s.HostConnID != "" && s.HostConnID != exclude {
		ids = append(ids, s.HostConnID)
	}
	for connID := range s.ClientConns {
		if connID != exclude {
			ids = append(ids, connID)
		}
	}
	return ids
}

func (d *Dispatcher) requireHost(p *peer.Peer, env *Envelope) (*session.Session, bool) {
	if p.SessionID == "" || p.Role != peer.RoleHost {
		d.sendError(p, env.RequestID, "not authorized: host role required")
		return nil, false
	}
	s, err := d.cfg.Registry.Get(p.SessionID)
	if err != nil {
		d.sendError(p, env.RequestID, "session not found")
		return nil, false
	}
	return s, true
}

func (d *Dispatcher) handleChangeSessionID(p *peer.Peer, env *Envelope) {
	s, ok := d.requireHost(p, env)
	if !ok {
		return
	}
	var req struct {
		NewID string `json:"newId"`
	}
	env.Field("newId", &req.NewID)
	newID := strings.ToLower(req.NewID)
	if newID == "" {
		newID = generateLinkID()
	}

	oldID := s.ID
	s.Lock()
	recipients := d.sessionPeerIDsLocked(s, "")
	recipients = append(recipients, s.HostConnID)
	s.Unlock()

	renamed, err := d.cfg.Registry.Rename(oldID, newID)
	if err != nil {
		d.sendError(p, env.RequestID, err.Error())
		return
	}

	for _, connID := range uniqueStrings(recipients) {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			other.SessionID = newID
			d.sendTo(other, "session_id_changed", map[string]interface{}{
				"oldSessionId":      oldID,
				"newSessionId":      newID,
				"reconnectDelayMs":  250,
			})
		}
	}
	_ = renamed
}

func (d *Dispatcher) handleUpdateSettings(p *peer.Peer, env *Envelope) {
	s, ok := d.requireHost(p, env)
	if !ok {
		return
	}
	var req struct {
		MaxClients    *int  `json:"maxClients"`
		AllowInput    *bool `json:"allowInput"`
		AllowAudio    *bool `json:"allowAudio"`
		AllowVideo    *bool `json:"allowVideo"`
		AllowTransfer *bool `json:"allowTransfer"`
	}
	env.Field("settings", &req)

	s.Lock()
	if req.MaxClients != nil {
		s.Settings.MaxClients = *req.MaxClients
	}
	if req.AllowInput != nil {
		s.Settings.AllowInput = *req.AllowInput
	}
	if req.AllowAudio != nil {
		s.Settings.AllowAudio = *req.AllowAudio
	}
	if req.AllowVideo != nil {
		s.Settings.AllowVideo = *req.AllowVideo
	}
	if req.AllowTransfer != nil {
		s.Settings.AllowTransfer = *req.AllowTransfer
	}
	recipients := d.sessionPeerIDsLocked(s, "")
	s.Unlock()

	for _, connID := range recipients {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			d.sendTo(other, "settings_updated", map[string]interface{}{})
		}
	}
}

func (d *Dispatcher) handleUpdatePassword(p *peer.Peer, env *Envelope) {
	s, ok := d.requireHost(p, env)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	env.Field("password", &req.Password)

	s.Lock()
	s.Settings.Password = req.Password
	recipients := d.sessionPeerIDsLocked(s, "")
	s.Unlock()

	for _, connID := range recipients {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			d.sendTo(other, "password_changed", map[string]interface{}{
				"passwordRequired": req.Password != "",
			})
		}
	}
}

func (d *Dispatcher) handleKick(p *peer.Peer, env *Envelope) {
	s, ok := d.requireHost(p, env)
	if !ok {
		return
	}
	var req struct {
		ClientConnectionID string `json:"clientConnectionId"`
		Reason             string `json:"reason"`
	}
	env.Field("clientConnectionId", &req.ClientConnectionID)
	env.Field("reason", &req.Reason)

	s.Lock()
	_, present := s.ClientConns[req.ClientConnectionID]
	if present {
		delete(s.ClientConns, req.ClientConnectionID)
	}
	others := d.sessionPeerIDsLocked(s, req.ClientConnectionID)
	clientCount := s.ClientCount()
	s.Unlock()

	if !present {
		d.sendError(p, env.RequestID, "client not found in session")
		return
	}

	if target, ok := d.cfg.Peers.Get(req.ClientConnectionID); ok {
		d.sendTo(target, "kicked", map[string]interface{}{"reason": req.Reason})
		target.SessionID = ""
		target.Role = peer.RoleUnknown
		go closeAfterKickDelay(target)
	}
	for _, connID := range others {
		if connID == p.ConnID {
			continue
		}
		if other, ok := d.cfg.Peers.Get(connID); ok {
			d.sendTo(other, "peer_left", map[string]interface{}{
				"peerId": req.ClientConnectionID,
				"reason": "kicked",
			})
		}
	}
	d.sendTo(p, "client_kicked", map[string]interface{}{"clientCount": clientCount})
}

func (d *Dispatcher) handleRegenerateLink(p *peer.Peer, env *Envelope) {
	s, ok := d.requireHost(p, env)
	if !ok {
		return
	}
	oldID := s.ID
	newID := generateLinkID()

	s.Lock()
	recipients := d.sessionPeerIDsLocked(s, "")
	recipients = append(recipients, s.HostConnID)
	s.Unlock()

	_, err := d.cfg.Registry.Rename(oldID, newID)
	if err != nil {
		d.sendError(p, env.RequestID, err.Error())
		return
	}

	for _, connID := range uniqueStrings(recipients) {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			other.SessionID = newID
			d.sendTo(other, "session_link_changed", map[string]interface{}{
				"oldSessionId": oldID,
				"newSessionId": newID,
			})
		}
	}
}

func (d *Dispatcher) handleForward(p *peer.Peer, env *Envelope, verb string) {
	var req struct {
		TargetID string `json:"targetId"`
	}
	env.Field("targetId", &req.TargetID)
	if req.TargetID == "" || p.SessionID == "" {
		return
	}
	s, err := d.cfg.Registry.Get(p.SessionID)
	if err != nil {
		return
	}
	s.Lock()
	inSession := req.TargetID == s.HostConnID
	if !inSession {
		_, inSession = s.ClientConns[req.TargetID]
	}
	s.Unlock()
	if !inSession {
		return
	}
	target, ok := d.cfg.Peers.Get(req.TargetID)
	if !ok {
		return
	}

	fields := map[string]interface{}{"fromId": p.ConnID}
	for _, key := range []string{"sdp", "candidate"} {
		var raw json.RawMessage
		if env.Field(key, &raw) {
			fields[key] = raw
		}
	}
	d.sendTo(target, verb, fields)
}

func (d *Dispatcher) handleBroadcast(p *peer.Peer, env *Envelope) {
	if p.SessionID == "" {
		return
	}
	s, err := d.cfg.Registry.Get(p.SessionID)
	if err != nil {
		return
	}
	var payload json.RawMessage
	env.Field("payload", &payload)

	s.Lock()
	recipients := d.sessionPeerIDsLocked(s, p.ConnID)
	s.Unlock()

	for _, connID := range recipients {
		if other, ok := d.cfg.Peers.Get(connID); ok {
			d.sendTo(other, "broadcast", map[string]interface{}{
				"fromId":  p.ConnID,
				"payload": payload,
			})
		}
	}
}

func (d *Dispatcher) handlePing(p *peer.Peer) {
	p.TouchPing(d.cfg.Clock.Now())
	d.sendTo(p, "pong", map[string]interface{}{})
}

// closeAfterKickDelay closes a kicked peer's channel after the grace
// period during which the kicked frame is expected to reach the client,
// per spec §4.H scenario 2.
func closeAfterKickDelay(p *peer.Peer) {
	time.Sleep(defaults.KickCloseDelay)
	p.Close()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
