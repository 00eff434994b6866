// Copyright 2013 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Version is this build of forge's own version, checked against a
// manifest's required_version directive (the Ninja-frontend analogue of
// ninja_required_version).
const Version = "0.1.0"

// ParseVersion parses the major/minor components of a "major.minor.*"
// version string. Extra components and trailing non-digit suffixes (as in
// "1.10.2.git") are ignored.
func ParseVersion(version string) (major, minor int) {
	end := strings.Index(version, ".")
	if end == -1 {
		end = len(version)
	}
	major, _ = strconv.Atoi(keepNumbers(version[:end]))
	if end != len(version) {
		start := end + 1
		end = strings.Index(version[start:], ".")
		if end == -1 {
			end = len(version)
		} else {
			end += start
		}
		minor, _ = strconv.Atoi(keepNumbers(version[start:end]))
	}
	return major, minor
}

func keepNumbers(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i != -1 {
		return s[:i]
	}
	return s
}

// checkRequiredVersion checks required against this build's Version,
// returning an error if the manifest demands a newer major/minor than
// what's running. A running version with a newer major than required only
// warns, matching the teacher's checkNinjaVersion asymmetry: old binaries
// reading new-enough manifests are an error, new binaries reading old
// manifests are not.
func checkRequiredVersion(required string) error {
	binMajor, binMinor := ParseVersion(Version)
	reqMajor, reqMinor := ParseVersion(required)
	if binMajor > reqMajor {
		slog.Warn("forge version newer than manifest required_version; versions may be incompatible", "forge_version", Version, "required_version", required)
	} else if (binMajor == reqMajor && binMinor < reqMinor) || binMajor < reqMajor {
		return fmt.Errorf("forge version (%s) incompatible with manifest required_version (%s)", Version, required)
	}
	return nil
}
