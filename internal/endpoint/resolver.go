package endpoint

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Config holds the bridge host/port/scheme settings. It is constructed once
// at process start and passed to the Resolver explicitly.
type Config struct {
	DevelopmentHost string `yaml:"development_host"`
	DeployedHost    string `yaml:"deployed_host"`
	Port            int    `yaml:"port"`
	Scheme          string `yaml:"scheme"`
}

// DefaultConfig returns the fixed bridge endpoints: localhost for development,
// the kiosk host for deployment, both on the bridge port.
func DefaultConfig() Config {
	return Config{
		DevelopmentHost: "localhost",
		DeployedHost:    "pitts",
		Port:            8001,
		Scheme:          "http",
	}
}

// HostSource reports the host the kiosk is running on. It may return an
// empty string or an error when no host can be observed; the Resolver treats
// both as "deployed".
type HostSource func() (string, error)

// EnvHostSource reads KIOSK_HOST, falling back to the OS hostname.
func EnvHostSource() (string, error) {
	if v := os.Getenv("KIOSK_HOST"); v != "" {
		return v, nil
	}
	return os.Hostname()
}

// Resolver derives bridge URLs for HTTP and stream connections. The
// development-vs-deployed classification is computed lazily on first use and
// memoized for the process lifetime.
type Resolver struct {
	config Config
	source HostSource

	once sync.Once
	host string
}

// NewResolver creates a Resolver over the given config and host source.
// A nil source defaults to EnvHostSource.
func NewResolver(config Config, source HostSource) *Resolver {
	if source == nil {
		source = EnvHostSource
	}
	return &Resolver{
		config: config,
		source: source,
	}
}

// resolveHost classifies the observed host exactly once. An unobservable
// host is never an error: the kiosk assumes it is deployed.
func (r *Resolver) resolveHost() string {
	r.once.Do(func() {
		observed, err := r.source()
		if err != nil || observed == "" {
			log.Debug().Err(err).Msg("no observable host, assuming deployed configuration")
			r.host = r.config.DeployedHost
			return
		}

		if isLoopback(observed) {
			r.host = r.config.DevelopmentHost
		} else {
			r.host = r.config.DeployedHost
		}

		log.Debug().
			Str("observed_host", observed).
			Str("bridge_host", r.host).
			Msg("resolved bridge host")
	})
	return r.host
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// BaseURL returns the HTTP base URL of the bridge.
func (r *Resolver) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", r.config.Scheme, r.resolveHost(), r.config.Port)
}

// APIURL returns the base URL for the bridge's REST endpoints. The bridge
// mounts its API at the root path.
func (r *Resolver) APIURL() string {
	return r.BaseURL()
}

// WebSocketURL returns the stream URL for a channel. The stream scheme
// follows the HTTP scheme: https upgrades to wss, everything else to ws.
func (r *Resolver) WebSocketURL(channel string) string {
	scheme := "ws"
	if r.config.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws/%s", scheme, r.resolveHost(), r.config.Port, channel)
}
