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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name         string
		ua           string
		wantPlatform string
		wantOS       string
	}{
		{
			name:         "windows 10",
			ua:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			wantPlatform: "desktop",
			wantOS:       "Windows 10/11",
		},
		{
			name:         "macos",
			ua:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15",
			wantPlatform: "desktop",
			wantOS:       "macOS 14.2",
		},
		{
			name:         "ubuntu linux",
			ua:           "Mozilla/5.0 (X11; Ubuntu; Linux x86_64) AppleWebKit/537.36",
			wantPlatform: "desktop",
			wantOS:       "Ubuntu",
		},
		{
			name:         "electron",
			ua:           "Mozilla/5.0 (Windows NT 10.0) openlink/2.0.0 Chrome/114 Electron/25.0.0 Safari/537.36",
			wantPlatform: "electron",
		},
		{
			name:         "android",
			ua:           "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36",
			wantPlatform: "mobile",
			wantOS:       "Android",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			info := ParseUserAgent(tc.ua)
			require.Equal(t, tc.wantPlatform, info.Platform)
			if tc.wantOS != "" {
				require.Equal(t, tc.wantOS, info.OS)
			}
		})
	}
}
