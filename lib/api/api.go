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

// Package api implements the control HTTP API (component I): the
// operator- and client-facing REST surface in front of the session
// registry, peer manager, domain broker, and monitor inbox.
package api

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/domainbroker"
	"github.com/raywonder/openlink/lib/monitor"
	"github.com/raywonder/openlink/lib/peer"
	"github.com/raywonder/openlink/lib/session"
)

// PeerAcceptor upgrades an incoming request to a duplex peer channel.
// Satisfied by *peer.Manager.
type PeerAcceptor interface {
	Accept(w http.ResponseWriter, r *http.Request) (*peer.Peer, error)
	Get(connID string) (*peer.Peer, bool)
	Snapshot() []*peer.Peer
	Count() int
}

// Config configures a Handler.
type Config struct {
	Sessions *session.Registry
	Peers    PeerAcceptor
	Domains  *domainbroker.Broker
	Monitor  *monitor.Inbox
	Clock    clockwork.Clock
	Log      logrus.FieldLogger
}

func (c *Config) checkAndSetDefaults() error {
	if c.Sessions == nil {
		return trace.BadParameter("missing session registry")
	}
	if c.Peers == nil {
		return trace.BadParameter("missing peer acceptor")
	}
	if c.Domains == nil {
		return trace.BadParameter("missing domain broker")
	}
	if c.Monitor == nil {
		return trace.BadParameter("missing monitor inbox")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField("component", "api")
	}
	return nil
}

// Handler is the control API's httprouter.Router wrapper, in the shape
// teleport's web.Handler uses: every route is a (w, r, p) -> (interface{},
// error) function wrapped once with status-code translation and JSON
// encoding.
type Handler struct {
	cfg    Config
	router *httprouter.Router
}

// NewHandler constructs a Handler and registers every route.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg, router: httprouter.New()}
	h.registerRoutes()
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.makeHandle(h.health))
	h.router.GET("/ws", h.rawHandle(h.acceptDuplex))

	h.router.GET("/api/validate/:link", h.makeHandle(h.validateLink))
	h.router.POST("/api/regenerate/:link", h.makeHandle(h.regenerateLink))

	h.router.GET("/sessions", h.makeHandle(h.listSessions))
	h.router.POST("/sessions/create", h.makeHandle(h.createSession))
	h.router.GET("/sessions/:id", h.makeHandle(h.getSession))
	h.router.DELETE("/sessions/:id", h.makeHandle(h.deleteSession))
	h.router.GET("/sessions/:id/clients", h.makeHandle(h.sessionClients))
	h.router.POST("/sessions/:id/kick", h.makeHandle(h.kickFromSession))
	h.router.POST("/sessions/:id/password", h.makeHandle(h.setSessionPassword))
	h.router.POST("/sessions/:id/regenerate-link", h.makeHandle(h.regenerateSessionLink))

	h.router.GET("/clients", h.makeHandle(h.listClients))
	h.router.GET("/connections", h.makeHandle(h.listClients))
	h.router.GET("/clients/monitor", h.rawHandle(h.streamClients))

	h.router.POST("/domains/request", h.makeHandle(h.requestDomain))
	h.router.GET("/domains", h.makeHandle(h.listDomains))
	h.router.DELETE("/domains/:id", h.makeHandle(h.releaseDomain))
	h.router.POST("/domains/permits", h.makeHandle(h.createPermit))
	h.router.POST("/domains/:id/temp-urls", h.makeHandle(h.createTempURL))

	h.router.POST("/signaling/offer", h.makeHandle(h.relaySignal("offer")))
	h.router.POST("/signaling/answer", h.makeHandle(h.relaySignal("answer")))
	h.router.POST("/signaling/ice-candidate", h.makeHandle(h.relaySignal("ice-candidate")))

	h.router.POST("/monitor/report", h.makeHandle(h.reportInstance))
	h.router.GET("/monitor/instances", h.makeHandle(h.listInstances))
	h.router.GET("/monitor/alerts", h.makeHandle(h.listAlerts))
	h.router.DELETE("/monitor/instances/:id", h.makeHandle(h.deleteInstance))
}

// handlerFunc is the per-route signature every registered endpoint
// implements, mirroring teleport's web.Handler convention: return a
// JSON-able value or an error, and let the wrapper sort out status
// codes and encoding.
type handlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// rawHandlerFunc is used by endpoints that take over the response
// writer directly (protocol upgrades, server-sent events).
type rawHandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params)

func (h *Handler) makeHandle(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) rawHandle(fn rawHandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fn(w, r, p)
	}
}
