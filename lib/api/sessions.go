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

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/raywonder/openlink/lib/session"
)

type sessionSummary struct {
	ID          string `json:"id"`
	HasHost     bool   `json:"hasHost"`
	ClientCount int    `json:"clientCount"`
	CreatedAt   int64  `json:"createdAt"`
	ExpiresAt   int64  `json:"expiresAt"`
	Regenerated bool   `json:"regenerated"`
}

func summarizeSession(s *session.Session) sessionSummary {
	s.Lock()
	defer s.Unlock()
	return sessionSummary{
		ID:          s.ID,
		HasHost:     s.HasHost(),
		ClientCount: s.ClientCount(),
		CreatedAt:   s.CreatedAt.UnixMilli(),
		ExpiresAt:   s.ExpiresAt.UnixMilli(),
		Regenerated: s.Regenerated,
	}
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	snapshot := h.cfg.Sessions.Snapshot()
	out := make([]sessionSummary, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, summarizeSession(s))
	}
	return out, nil
}

type createSessionRequest struct {
	LinkID   string `json:"linkId"`
	Password string `json:"password"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, trace.BadParameter("invalid request body: %v", err)
		}
	}
	id := strings.ToLower(req.LinkID)
	if id == "" {
		id = newLinkID()
	}
	s, err := h.cfg.Sessions.Create(id, h.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if req.Password != "" {
		s.Lock()
		s.Settings.Password = req.Password
		s.Unlock()
	}
	return summarizeSession(s), nil
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	s, err := h.cfg.Sessions.Get(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return summarizeSession(s), nil
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id := p.ByName("id")
	if _, err := h.cfg.Sessions.Get(id); err != nil {
		return nil, trace.Wrap(err)
	}
	h.cfg.Sessions.Delete(id)
	return nil, nil
}

type clientEntry struct {
	ConnID   string `json:"connectionId"`
	IsHost   bool   `json:"isHost"`
	Platform string `json:"platform"`
	OS       string `json:"os"`
}

func (h *Handler) sessionClients(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	s, err := h.cfg.Sessions.Get(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s.Lock()
	connIDs := make([]string, 0, len(s.ClientConns)+1)
	hostID := s.HostConnID
	if hostID != "" {
		connIDs = append(connIDs, hostID)
	}
	for id := range s.ClientConns {
		connIDs = append(connIDs, id)
	}
	s.Unlock()

	out := make([]clientEntry, 0, len(connIDs))
	for _, id := range connIDs {
		peer, ok := h.cfg.Peers.Get(id)
		if !ok {
			continue
		}
		out = append(out, clientEntry{
			ConnID:   id,
			IsHost:   id == hostID,
			Platform: peer.Info.Platform,
			OS:       peer.Info.OS,
		})
	}
	return out, nil
}

type kickRequest struct {
	ClientID string `json:"clientId"`
	Reason   string `json:"reason"`
}

func (h *Handler) kickFromSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	s, err := h.cfg.Sessions.Get(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s.Lock()
	if _, ok := s.ClientConns[req.ClientID]; !ok {
		s.Unlock()
		return nil, trace.NotFound("client %v is not in session %v", req.ClientID, s.ID)
	}
	delete(s.ClientConns, req.ClientID)
	s.Unlock()

	if target, ok := h.cfg.Peers.Get(req.ClientID); ok {
		h.sendTo(target, "kicked", map[string]interface{}{"reason": req.Reason})
		go target.Close()
	}
	return nil, nil
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) setSessionPassword(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	s, err := h.cfg.Sessions.Get(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s.Lock()
	s.Settings.Password = req.Password
	recipients := h.sessionPeerIDsLocked(s, "")
	s.Unlock()

	for _, connID := range recipients {
		if peer, ok := h.cfg.Peers.Get(connID); ok {
			h.sendTo(peer, "password_changed", map[string]interface{}{"passwordRequired": req.Password != ""})
		}
	}
	return nil, nil
}

func (h *Handler) regenerateSessionLink(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	newID, err := h.regenerateSessionID(p.ByName("id"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"sessionId": newID}, nil
}

// regenerateSessionID renames oldID to a fresh generated link ID, tags the
// renamed session as regenerated, and notifies every attached peer. If
// oldID names no session, it instead creates an empty placeholder session
// under oldID and returns that ID unchanged, per the control API's
// regenerate semantics: operator-only, warn-logged, and reachable only
// from this HTTP path rather than the duplex channel. Shared by the
// /sessions/:id/regenerate-link and /api/regenerate/:link HTTP entry points.
func (h *Handler) regenerateSessionID(oldID string) (string, error) {
	s, err := h.cfg.Sessions.Get(oldID)
	if trace.IsNotFound(err) {
		h.cfg.Log.WithField("link", oldID).Warn("regenerate requested for absent link, creating empty placeholder session")
		placeholder, createErr := h.cfg.Sessions.Create(oldID, h.cfg.Clock.Now())
		if createErr != nil {
			return "", trace.Wrap(createErr)
		}
		return placeholder.ID, nil
	}
	if err != nil {
		return "", trace.Wrap(err)
	}

	s.Lock()
	recipients := h.sessionPeerIDsLocked(s, "")
	s.Unlock()

	newID := newLinkID()
	renamed, err := h.cfg.Sessions.Rename(oldID, newID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	renamed.Lock()
	renamed.Regenerated = true
	renamed.Unlock()

	for _, connID := range recipients {
		if peer, ok := h.cfg.Peers.Get(connID); ok {
			peer.SessionID = newID
			h.sendTo(peer, "session_link_changed", map[string]interface{}{
				"oldSessionId": oldID,
				"newSessionId": newID,
			})
		}
	}
	return newID, nil
}

// sessionPeerIDsLocked returns every peer connection ID in s other than
// exclude. Caller must hold s's lock.
func (h *Handler) sessionPeerIDsLocked(s *session.Session, exclude string) []string {
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
