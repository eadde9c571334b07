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
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the body returned for every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to an HTTP status using the trace error kinds
// raised throughout the lower layers, and writes the response body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		h.cfg.Log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorResponse{Error: trace.UserMessage(err)})
}

func statusCode(err error) int {
	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case trace.IsNotImplemented(err):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
