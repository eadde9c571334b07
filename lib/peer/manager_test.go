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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames [][]byte
	closed []string
}

func (h *recordingHandler) HandleFrame(p *Peer, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *recordingHandler) HandleClose(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, p.ConnID)
}

func TestManagerAcceptSendsWelcomeAndAssignsSubdomainHint(t *testing.T) {
	handler := &recordingHandler{}
	mgr, err := NewManager(Config{
		BaseDomains: []string{"openlink.raywonderis.me"},
		Handler:     handler,
	})
	require.NoError(t, err)

	var accepted *Peer
	acceptedCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := mgr.Accept(w, r)
		require.NoError(t, err)
		accepted = p
		close(acceptedCh)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Host", "foo.openlink.raywonderis.me")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"welcome"`)

	<-acceptedCh
	require.Equal(t, 1, mgr.Count())
	require.Equal(t, "foo", accepted.SubdomainHint)
}

func TestManagerForwardsInboundFramesAndTracksClose(t *testing.T) {
	handler := &recordingHandler{}
	mgr, err := NewManager(Config{Handler: handler})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := mgr.Accept(w, r)
		require.NoError(t, err)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	_, _, err = conn.ReadMessage() // welcome
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.frames) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.closed) == 1
	}, time.Second, 10*time.Millisecond)
}
