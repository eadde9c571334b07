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
	"regexp"
	"strings"
)

var windowsReleases = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`Windows NT 10\.0`), "Windows 10/11"},
	{regexp.MustCompile(`Windows NT 6\.3`), "Windows 8.1"},
	{regexp.MustCompile(`Windows NT 6\.2`), "Windows 8"},
	{regexp.MustCompile(`Windows NT 6\.1`), "Windows 7"},
	{regexp.MustCompile(`Windows NT 6\.0`), "Windows Vista"},
	{regexp.MustCompile(`Windows NT 5\.1`), "Windows XP"},
}

var macOSVersion = regexp.MustCompile(`Mac OS X (\d+)[_.](\d+)(?:[_.](\d+))?`)

var linuxDistros = []struct {
	substr string
	name   string
}{
	{"Ubuntu", "Ubuntu"},
	{"Fedora", "Fedora"},
	{"Debian", "Debian"},
	{"CrOS", "ChromeOS"},
	{"Android", "Android"},
}

// ParseUserAgent parses a browser/client User-Agent header into a
// best-effort platform/OS/arch guess, per the pattern library in spec
// §4.G: Windows NT families mapped by version to named releases, a macOS
// "X _" capture for release numbering, Linux distro substrings, and an
// Electron catch-all.
func ParseUserAgent(ua string) ClientInfo {
	info := ClientInfo{Platform: "unknown", OS: "unknown", Arch: "unknown"}

	switch {
	case strings.Contains(ua, "Electron"):
		info.Platform = "electron"
	case strings.Contains(ua, "Windows"):
		info.Platform = "desktop"
	case strings.Contains(ua, "Macintosh") || strings.Contains(ua, "Mac OS X"):
		info.Platform = "desktop"
	case strings.Contains(ua, "Linux") && !strings.Contains(ua, "Android"):
		info.Platform = "desktop"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		info.Platform = "mobile"
	case strings.Contains(ua, "Android"):
		info.Platform = "mobile"
	}

	for _, w := range windowsReleases {
		if w.pattern.MatchString(ua) {
			info.OS = w.name
			break
		}
	}
	if info.OS == "unknown" {
		if m := macOSVersion.FindStringSubmatch(ua); m != nil {
			info.OS = "macOS " + strings.Join(nonEmpty(m[1:]), ".")
		}
	}
	if info.OS == "unknown" {
		for _, d := range linuxDistros {
			if strings.Contains(ua, d.substr) {
				info.OS = d.name
				break
			}
		}
		if info.OS == "unknown" && strings.Contains(ua, "Linux") {
			info.OS = "Linux"
		}
	}

	switch {
	case strings.Contains(ua, "x86_64") || strings.Contains(ua, "Win64") || strings.Contains(ua, "WOW64"):
		info.Arch = "x86_64"
	case strings.Contains(ua, "arm64") || strings.Contains(ua, "aarch64"):
		info.Arch = "arm64"
	case strings.Contains(ua, "i686") || strings.Contains(ua, "i386"):
		info.Arch = "x86"
	}

	return info
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
