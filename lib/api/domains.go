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
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/raywonder/openlink/lib/domainbroker"
)

type requestDomainBody struct {
	RequesterID    string `json:"requesterId"`
	Subdomain      string `json:"subdomain"`
	BaseDomain     string `json:"baseDomain"`
	TargetHost     string `json:"targetHost"`
	TargetPort     int    `json:"targetPort"`
	TLS            bool   `json:"tls"`
	PermitToken    string `json:"permitToken"`
	Temporary      bool   `json:"temporary"`
	DurationSec    int    `json:"durationSeconds"`
	RequesterLANIP string `json:"requesterLanIp"`
	PermitOnly     bool   `json:"permitOnly"`
}

type domainResponse struct {
	*domainbroker.Domain
	AccessURL string `json:"accessUrl"`
}

func (h *Handler) requestDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var body requestDomainBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}

	d, err := h.cfg.Domains.RequestDomain(r.Context(), domainbroker.RequestSpec{
		RequesterID:    body.RequesterID,
		Subdomain:      body.Subdomain,
		BaseDomain:     body.BaseDomain,
		TargetHost:     body.TargetHost,
		TargetPort:     body.TargetPort,
		TLS:            body.TLS,
		PermitToken:    body.PermitToken,
		Temporary:      body.Temporary,
		Duration:       time.Duration(body.DurationSec) * time.Second,
		RequesterLANIP: body.RequesterLANIP,
		PermitOnly:     body.PermitOnly,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return domainResponse{Domain: d, AccessURL: domainbroker.AccessURL(d)}, nil
}

func (h *Handler) listDomains(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	snapshot := h.cfg.Domains.Snapshot()
	out := make([]domainResponse, 0, len(snapshot))
	for _, d := range snapshot {
		out = append(out, domainResponse{Domain: d, AccessURL: domainbroker.AccessURL(d)})
	}
	return out, nil
}

func (h *Handler) releaseDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	if err := h.cfg.Domains.ReleaseDomain(r.Context(), p.ByName("id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return nil, nil
}

type createPermitBody struct {
	Pattern     string   `json:"pattern"`
	DurationSec int      `json:"durationSeconds"`
	Permissions []string `json:"permissions"`
	BoundClient string   `json:"boundClient"`
	CreatedBy   string   `json:"createdBy"`
}

func (h *Handler) createPermit(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var body createPermitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	permit := h.cfg.Domains.CreatePermit(
		body.Pattern,
		time.Duration(body.DurationSec)*time.Second,
		body.Permissions,
		body.BoundClient,
		body.CreatedBy,
	)
	return permit, nil
}

type createTempURLBody struct {
	DurationSec int      `json:"durationSeconds"`
	MaxUses     int      `json:"maxUses"`
	Permissions []string `json:"permissions"`
	BoundClient string   `json:"boundClient"`
}

func (h *Handler) createTempURL(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var body createTempURLBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	url, err := h.cfg.Domains.CreateTemporaryURL(
		p.ByName("id"),
		time.Duration(body.DurationSec)*time.Second,
		body.MaxUses,
		body.Permissions,
		body.BoundClient,
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return url, nil
}
