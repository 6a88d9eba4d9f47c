package config

// EmbeddedTMDBKey is injected at build time and used when no key is configured.
//
// Build with:
//
//	go build -ldflags "-X 'github.com/mediacore/mediacore/internal/config.EmbeddedTMDBKey=xxx'"
var EmbeddedTMDBKey string

// Version is the build version, set with -ldflags "-X ...config.Version=v1.2.3".
var Version = "dev"
