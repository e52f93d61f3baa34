package version

import (
	"runtime/debug"
	"strings"
)

// Version is overridden at release time via -ldflags.
var Version = "dev"

// Resolve returns the version string, preferring the release value and
// falling back to the module version recorded by the Go toolchain.
func Resolve() string {
	return resolveVersion(Version, debug.ReadBuildInfo)
}

func resolveVersion(base string, readInfo func() (*debug.BuildInfo, bool)) string {
	if base != "" && base != "dev" {
		return base
	}

	info, ok := readInfo()
	if !ok || info == nil {
		return base
	}

	v := strings.TrimPrefix(info.Main.Version, "v")
	if v == "" || v == "(devel)" {
		return base
	}
	return v
}
