package version

// Version is set at build time:
//
//	go build -ldflags "-X ad-traffic-router/version.Version=1.4.0" ./cmd/server
var Version = "dev"
