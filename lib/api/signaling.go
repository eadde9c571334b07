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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

type relaySignalBody struct {
	FromConnID string          `json:"fromConnectionId"`
	ToConnID   string          `json:"toConnectionId"`
	Payload    json.RawMessage `json:"payload"`
}

// relaySignal builds the HTTP bridge for the three forwarded verbs
// (offer/answer/ice-candidate), for deployments where a peer reaches
// the control plane over plain HTTP rather than the duplex channel.
func (h *Handler) relaySignal(verb string) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		var body relaySignalBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, trace.BadParameter("invalid request body: %v", err)
		}
		target, ok := h.cfg.Peers.Get(body.ToConnID)
		if !ok {
			return nil, trace.NotFound("connection %v not found", body.ToConnID)
		}
		h.sendTo(target, verb, map[string]interface{}{
			"fromId":  body.FromConnID,
			"payload": body.Payload,
		})
		return nil, nil
	}
}
