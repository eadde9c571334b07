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

// Package hostextract parses the HTTP Host header of an incoming duplex
// channel upgrade and, when it matches a configured base-domain
// allowlist, returns the subdomain label in front of the match. It holds
// no state and mutates nothing (component J).
package hostextract

import (
	"net"
	"strings"
)

// FromHeader strips any port from host and tests it against allowlist, a
// set of base domains (e.g. "openlink.raywonderis.me"). If host ends with
// "."+base for some base in allowlist, and the remaining label is
// non-empty, that label is returned as the subdomain hint. Otherwise the
// second return value is false.
func FromHeader(host string, allowlist []string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", false
	}

	for _, base := range allowlist {
		base = strings.ToLower(strings.TrimSpace(base))
		if base == "" {
			continue
		}
		suffix := "." + base
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		label := strings.TrimSuffix(host, suffix)
		if label == "" {
			continue
		}
		return label, true
	}
	return "", false
}
