// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version string reported by
// --version and the /diag endpoint.
package version

import "runtime/debug"

// Version is the release version. Overridden at build time with
// -ldflags "-X github.com/seamster-project/seamster/lib/version.Version=v1.2.3".
var Version = "dev"

// Info returns the version string, including the VCS revision when
// the binary was built from a module with embedded build info.
func Info() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}

	var revision string
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision = setting.Value
			break
		}
	}

	if revision == "" {
		return Version
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return Version + " (" + revision + ")"
}
