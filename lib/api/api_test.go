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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raywonder/openlink/lib/domainbroker"
	"github.com/raywonder/openlink/lib/execchannel"
	"github.com/raywonder/openlink/lib/existence"
	"github.com/raywonder/openlink/lib/monitor"
	"github.com/raywonder/openlink/lib/peer"
	"github.com/raywonder/openlink/lib/portalloc"
	"github.com/raywonder/openlink/lib/proxyconfig"
	"github.com/raywonder/openlink/lib/session"
	"github.com/raywonder/openlink/lib/signaling"
)

type noopChannel struct{}

func (noopChannel) ExecuteLocalPrivileged(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (noopChannel) ExecuteRemote(ctx context.Context, command string) (*execchannel.Result, error) {
	return &execchannel.Result{ExitStatus: 0}, nil
}
func (noopChannel) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *peer.Manager, *session.Registry) {
	t.Helper()

	registry := session.NewRegistry(time.Hour)

	dir := t.TempDir()
	writer, err := proxyconfig.New(proxyconfig.Config{
		Paths: proxyconfig.Paths{Local: filepath.Join(dir, "local.conf")},
		Local: noopChannel{},
	})
	require.NoError(t, err)

	allocator, err := portalloc.New(9000, 9100)
	require.NoError(t, err)

	checker, err := existence.New(existence.Config{Proxy: writer})
	require.NoError(t, err)

	broker, err := domainbroker.New(domainbroker.Config{
		Allocator:   allocator,
		Proxy:       writer,
		Existence:   checker,
		BaseDomains: []string{"openlink.local"},
	})
	require.NoError(t, err)

	inbox := monitor.New(nil)

	var mgr *peer.Manager
	dispatcher, err := signaling.New(signaling.Config{
		Registry: registry,
		Peers:    mgrLookup{&mgr},
	})
	require.NoError(t, err)

	mgr, err = peer.NewManager(peer.Config{
		BaseDomains: []string{"openlink.local"},
		Handler:     dispatcher,
	})
	require.NoError(t, err)

	h, err := NewHandler(Config{
		Sessions: registry,
		Peers:    mgr,
		Domains:  broker,
		Monitor:  inbox,
	})
	require.NoError(t, err)
	return h, mgr, registry
}

// mgrLookup breaks the construction cycle between the dispatcher (which
// needs a PeerSource) and the peer manager (which needs the dispatcher
// as its InboundHandler), the same indirection used in
// lib/signaling's own tests.
type mgrLookup struct {
	mgr **peer.Manager
}

func (l mgrLookup) Get(connID string) (*peer.Peer, bool) {
	if *l.mgr == nil {
		return nil, false
	}
	return (*l.mgr).Get(connID)
}

func doJSON(t *testing.T, h *Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
}

func TestCreateAndGetSession(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/create", createSessionRequest{LinkID: "myroom"})
	require.Equal(t, http.StatusOK, rec.Code)

	var created sessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "myroom", created.ID)

	rec = doJSON(t, h, http.MethodGet, "/sessions/myroom", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/sessions/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSessionTwiceIsNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	doJSON(t, h, http.MethodPost, "/sessions/create", createSessionRequest{LinkID: "gone"})

	rec := doJSON(t, h, http.MethodDelete, "/sessions/gone", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/sessions/gone", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateLinkReportsHostPresence(t *testing.T) {
	h, _, registry := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/api/validate/noroom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp validateLinkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Valid)

	s, err := registry.Create("hasroom", time.Now())
	require.NoError(t, err)
	s.HostConnID = "conn-1"

	rec = doJSON(t, h, http.MethodGet, "/api/validate/hasroom", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Valid)
	require.True(t, resp.HasHost)
}

func TestRegenerateAbsentLinkCreatesPlaceholder(t *testing.T) {
	h, _, registry := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/api/regenerate/ghost", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp regenerateLinkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ghost", resp.SessionID)

	s, err := registry.Get("ghost")
	require.NoError(t, err)
	require.False(t, s.HasHost())
	require.Equal(t, 0, s.ClientCount())
}

func TestRegenerateExistingLinkTagsRegenerated(t *testing.T) {
	h, _, registry := newTestHandler(t)

	_, err := registry.Create("abcd1234", time.Now())
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/regenerate/abcd1234", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp regenerateLinkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, "abcd1234", resp.SessionID)

	_, err = registry.Get("abcd1234")
	require.Error(t, err)

	renamed, err := registry.Get(resp.SessionID)
	require.NoError(t, err)
	require.True(t, renamed.Regenerated)
}

func TestRequestAndListDomain(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/domains/request", requestDomainBody{
		RequesterID: "conn-1",
		Subdomain:   "demo",
		BaseDomain:  "openlink.local",
		TargetHost:  "127.0.0.1",
		TargetPort:  8765,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created domainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.AccessURL)

	rec = doJSON(t, h, http.MethodGet, "/domains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
}

func TestMonitorReportAndList(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/monitor/report", reportInstanceBody{
		InstanceID: "inst-1",
		Hostname:   "box-1",
		Version:    "2.0.0",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/monitor/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var instances []*monitor.Instance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &instances))
	require.Len(t, instances, 1)
	require.Equal(t, "inst-1", instances[0].ID)
}
