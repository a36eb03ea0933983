// Package buildinfo carries version metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/ZanzyTHEbar/sg-entity-graph/internal/buildinfo.Version=v0.3.0"
package buildinfo

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
