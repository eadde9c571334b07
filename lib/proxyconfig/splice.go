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

package proxyconfig

import (
	"fmt"
	"strings"
)

func sentinelPrefix() string {
	return fmt.Sprintf("# %s:", Sentinel)
}

// appendBlock returns aggregate with block appended. The aggregate's
// surrounding content — comments, unrelated blocks — is left untouched;
// this package treats the file as opaque concatenation.
func appendBlock(aggregate, block string) string {
	if aggregate == "" {
		return block
	}
	if !strings.HasSuffix(aggregate, "\n") {
		aggregate += "\n"
	}
	return aggregate + block
}

// removeBlock splices out the server-block whose sentinel line contains
// "(ID: <domainID>,". It scans for a line beginning with the sentinel
// prefix and ending before the next sentinel line or end-of-file. The
// splice operates on byte offsets derived from the line split rather than
// rejoining a trimmed slice of lines, so a preceding newline that belongs
// to unrelated surrounding content is never swallowed along with the
// block. Returns the spliced aggregate and whether a block was found.
func removeBlock(aggregate, domainID string) (string, bool) {
	marker := fmt.Sprintf("(ID: %s,", domainID)
	lines := strings.Split(aggregate, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, sentinelPrefix()) && strings.Contains(line, marker) {
			start = i
			break
		}
	}
	if start == -1 {
		return aggregate, false
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], sentinelPrefix()) {
			end = i
			break
		}
	}

	startOffset := len(strings.Join(lines[:start], "\n"))
	if start > 0 {
		startOffset++
	}

	endOffset := len(aggregate)
	if end < len(lines) {
		endOffset = len(strings.Join(lines[:end], "\n")) + 1
	}

	return aggregate[:startOffset] + aggregate[endOffset:], true
}

// hasSentinel reports whether aggregate still contains a sentinel line
// for domainID. Backs Writer.Has.
func hasSentinel(aggregate, domainID string) bool {
	marker := fmt.Sprintf("(ID: %s,", domainID)
	for _, line := range strings.Split(aggregate, "\n") {
		if strings.HasPrefix(line, sentinelPrefix()) && strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// hasServerName reports whether aggregate contains an nginx
// `server_name <fullName>;` directive, the marker blockTemplate emits
// regardless of which domain ID owns the block. Used by the existence
// checker (component D), which only ever has a full name to search
// for, never the domain ID a freshly-provisioned record would carry.
func hasServerName(aggregate, fullName string) bool {
	marker := fmt.Sprintf("server_name %s;", fullName)
	for _, line := range strings.Split(aggregate, "\n") {
		if strings.Contains(strings.TrimSpace(line), marker) {
			return true
		}
	}
	return false
}
