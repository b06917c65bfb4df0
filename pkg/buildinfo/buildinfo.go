package buildinfo

import "path/filepath"

// Version is stamped in by the release build with -ldflags "-X github.com/cyclopcam/fallwatch/pkg/buildinfo.Version=..."
var Version = "dev"

// Multiarch is filled in by the Debian build system.
// It's the directory you see in /usr/lib/XXX, such as /usr/lib/x86_64-linux-gnu, or /usr/lib/aarch64-linux-gnu.
// The Debian package installs libonnxruntime.so there.
// If the value of Multiarch is "unknown", then we ignore this path.
var Multiarch = "unknown"

// Returns the path of a shared library that was installed by our package, or "" if
// this is not a packaged build.
func PackagedLibrary(name string) string {
	if Multiarch == "unknown" || Multiarch == "" {
		return ""
	}
	return filepath.Join("/usr/lib", Multiarch, name)
}
