// Package version provides build and version information for soundstage.
package version

// Version is the current release version of soundstage.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/soundstage/internal/version.Version=x.y.z"
var Version = "0.1.0"
