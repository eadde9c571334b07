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
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type connectionSummary struct {
	ConnID     string `json:"connectionId"`
	SessionID  string `json:"sessionId"`
	Role       string `json:"role"`
	Platform   string `json:"platform"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	RemoteAddr string `json:"remoteAddr"`
	FirstSeen  int64  `json:"firstSeen"`
	LastSeen   int64  `json:"lastSeen"`
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	snapshot := h.cfg.Peers.Snapshot()
	out := make([]connectionSummary, 0, len(snapshot))
	for _, peer := range snapshot {
		out = append(out, connectionSummary{
			ConnID:     peer.ConnID,
			SessionID:  peer.SessionID,
			Role:       string(peer.Role),
			Platform:   peer.Info.Platform,
			OS:         peer.Info.OS,
			Arch:       peer.Info.Arch,
			RemoteAddr: peer.RemoteAddr,
			FirstSeen:  peer.FirstSeen.UnixMilli(),
			LastSeen:   peer.LastSeen.UnixMilli(),
		})
	}
	return out, nil
}

// streamClients serves a server-sent-events feed of the connection
// snapshot, refreshed every 2 seconds, for operator dashboards that
// want push updates without polling /clients.
func (h *Handler) streamClients(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	writeSnapshot := func() bool {
		snapshot := h.cfg.Peers.Snapshot()
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeSnapshot() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !writeSnapshot() {
				return
			}
		}
	}
}
