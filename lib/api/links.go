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
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

type validateLinkResponse struct {
	Valid       bool `json:"valid"`
	HasHost     bool `json:"hasHost"`
	ClientCount int  `json:"clientCount"`
}

// validateLink is the pre-connect check a client runs before dialing
// the duplex channel with a link ID typed in by a user. It is
// non-authoritative: a positive result can race with a concurrent
// teardown of the session before the client actually joins.
func (h *Handler) validateLink(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	id := strings.ToLower(p.ByName("link"))
	s, err := h.cfg.Sessions.Get(id)
	if err != nil {
		return validateLinkResponse{Valid: false}, nil
	}
	s.Lock()
	defer s.Unlock()
	return validateLinkResponse{Valid: true, HasHost: s.HasHost(), ClientCount: s.ClientCount()}, nil
}

type regenerateLinkResponse struct {
	SessionID string `json:"sessionId"`
}

// regenerateLink is the HTTP-triggered counterpart of the duplex
// channel's regenerate-link verb, for operators acting outside an
// active host connection.
func (h *Handler) regenerateLink(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	newID, err := h.regenerateSessionID(strings.ToLower(p.ByName("link")))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return regenerateLinkResponse{SessionID: newID}, nil
}
