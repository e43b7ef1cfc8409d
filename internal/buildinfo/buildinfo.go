// Package buildinfo carries version metadata injected at build time via
// -ldflags "-X github.com/modelgate/modelgate/internal/buildinfo.Version=…".
package buildinfo

var (
	Version = "dev"
	Commit  = ""
)
