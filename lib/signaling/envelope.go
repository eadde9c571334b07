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

// Package signaling implements the signaling dispatcher (component H):
// interpreting inbound duplex-channel frames, mutating the session
// registry for lifecycle verbs, and forwarding opaque payloads
// (offer/answer/ice-candidate) between peers.
package signaling

import "encoding/json"

// Envelope is the wire shape of every duplex-channel frame: a
// discriminator "type" plus an arbitrary payload, decoded in two passes
// (the type first, the payload once the verb is known).
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"-"`
	raw       map[string]json.RawMessage
}

// UnmarshalJSON captures Type/RequestID plus the full field set so verb
// handlers can decode their own payload shape out of the same frame.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	e.raw = fields
	if t, ok := fields["type"]; ok {
		if err := json.Unmarshal(t, &e.Type); err != nil {
			return err
		}
	}
	if rid, ok := fields["requestId"]; ok {
		json.Unmarshal(rid, &e.RequestID) //nolint:errcheck // optional field
	}
	return nil
}

// Field decodes a named field of the original frame into v. Returns
// false if the field was absent.
func (e *Envelope) Field(name string, v interface{}) bool {
	raw, ok := e.raw[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// normalizeVerb maps legacy verb spellings (underscored, camelCase) onto
// the canonical verb name the dispatch switch expects.
// Several client generations sent kick-client as "kick_client" and
// "kickClient"; both are preserved here rather than breaking them.
func normalizeVerb(verb string) string {
	switch verb {
	case "kick_client", "kickClient":
		return "kick-client"
	case "change_password":
		return "update-password"
	case "changeSessionId", "change_session_id":
		return "change-session-id"
	case "regenerateLink", "regenerate_link":
		return "regenerate-link"
	case "iceCandidate", "ice_candidate":
		return "ice-candidate"
	default:
		return verb
	}
}

// outboundFrame is the common envelope shape for server→peer messages.
func outboundFrame(typ string, fields map[string]interface{}, timestampMs int64) map[string]interface{} {
	out := map[string]interface{}{"type": typ, "timestamp": timestampMs}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
