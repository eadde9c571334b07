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

package utils

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestSplitIdentifiers(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, SplitIdentifiers("a, b\nc"))
	require.Empty(t, SplitIdentifiers("   "))
}

func TestUserMessageFromError(t *testing.T) {
	require.Empty(t, UserMessageFromError(nil))
	msg := UserMessageFromError(trace.NotFound("widget missing"))
	require.Contains(t, msg, "widget missing")
}
