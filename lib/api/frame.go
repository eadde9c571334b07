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

	"github.com/raywonder/openlink/lib/peer"
)

// sendTo delivers a duplex-channel frame of the given type to p,
// stamping the current server time the same way the signaling
// dispatcher does, so operator-triggered actions (kick, password
// change, link regeneration) look identical on the wire to
// peer-triggered ones.
func (h *Handler) sendTo(p *peer.Peer, typ string, fields map[string]interface{}) {
	frame := map[string]interface{}{
		"type":      typ,
		"timestamp": h.cfg.Clock.Now().UnixMilli(),
	}
	for k, v := range fields {
		frame[k] = v
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	p.Send(payload)
}
