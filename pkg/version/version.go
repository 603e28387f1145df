// Package version holds the build version, overridable with
// -ldflags "-X drivesim/pkg/version.Version=...".
package version

// Version is the drivesim release.
var Version = "v0.1.0"
