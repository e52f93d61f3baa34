package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeBuildInfo(version string, ok bool) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		if !ok {
			return nil, false
		}
		info := &debug.BuildInfo{}
		info.Main.Version = version
		return info, true
	}
}

func TestResolveVersionPrefersReleaseValue(t *testing.T) {
	t.Parallel()

	got := resolveVersion("1.2.0", fakeBuildInfo("v9.9.9", true))
	require.Equal(t, "1.2.0", got)
}

func TestResolveVersionFallsBackToModuleVersion(t *testing.T) {
	t.Parallel()

	got := resolveVersion("dev", fakeBuildInfo("v0.3.1", true))
	require.Equal(t, "0.3.1", got)
}

func TestResolveVersionKeepsDevWithoutBuildInfo(t *testing.T) {
	t.Parallel()

	got := resolveVersion("dev", fakeBuildInfo("", false))
	require.Equal(t, "dev", got)

	got = resolveVersion("dev", fakeBuildInfo("(devel)", true))
	require.Equal(t, "dev", got)
}
