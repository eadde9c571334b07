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

type reportInstanceBody struct {
	InstanceID string            `json:"instanceId"`
	Hostname   string            `json:"hostname"`
	Version    string            `json:"version"`
	Metadata   map[string]string `json:"metadata"`
}

func (h *Handler) reportInstance(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var body reportInstanceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, trace.BadParameter("invalid request body: %v", err)
	}
	if body.InstanceID == "" {
		return nil, trace.BadParameter("missing instanceId")
	}
	h.cfg.Monitor.Report(body.InstanceID, body.Hostname, body.Version, body.Metadata)
	return nil, nil
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return h.cfg.Monitor.Instances(), nil
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return h.cfg.Monitor.Alerts(), nil
}

func (h *Handler) deleteInstance(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	h.cfg.Monitor.RemoveInstance(p.ByName("id"))
	return nil, nil
}
