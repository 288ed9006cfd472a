package buildinfo

// Version is filled in at link time, eg
// go build -ldflags "-X github.com/cyclopcam/rtvd/pkg/buildinfo.Version=1.2.0" ./cmd/rtvd
var Version = "dev"
