// Package version exposes build metadata of the kiosk binaries.
//
// Version, Commit and BuildTime are injected with -ldflags -X at build time;
// local builds report the defaults. Short and Full render them for the CLI
// and for the startup log line.
package version
