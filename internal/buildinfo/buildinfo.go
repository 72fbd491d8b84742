// Package buildinfo carries version metadata stamped at build time via
// -ldflags "-X waveopt/internal/buildinfo.Version=... -X ...Commit=...".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"goVersion": runtime.Version(),
	}
}
