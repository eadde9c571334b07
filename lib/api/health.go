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

	"github.com/julienschmidt/httprouter"

	"github.com/raywonder/openlink/lib/defaults"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return healthResponse{Status: "healthy", Version: defaults.ServerVersion}, nil
}

func (h *Handler) acceptDuplex(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if _, err := h.cfg.Peers.Accept(w, r); err != nil {
		h.cfg.Log.WithError(err).Warn("duplex channel upgrade failed")
	}
}
