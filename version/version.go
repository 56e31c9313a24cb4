// Package version resolves the gateway's own version from the module
// metadata stamped into the binary at build time.
package version

import (
	"runtime"
	"runtime/debug"
)

const modulePath = "switchyard.dev"

// Gateway returns the gateway module version. Binaries built from a
// working checkout carry no release tag and report "dev"; binaries that
// depend on the module report the pinned version, with replace directives
// marked as such.
func Gateway() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if info.Path == modulePath {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		return "dev"
	}

	for _, dep := range info.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil {
			return dep.Replace.Version + " (replaced)"
		}
		return dep.Version
	}
	return "unknown"
}

// Runtime returns the Go toolchain version the binary was built with.
func Runtime() string {
	return runtime.Version()
}
