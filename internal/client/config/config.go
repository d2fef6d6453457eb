// Package config handles configuration for the upload client,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the chunkdrive CLI.
//
// Fields:
//   - ServerEndpointAddr: base URL of the backend HTTP endpoint.
//   - AuthToken: bearer token presented on every request.
//   - ChunkConcurrency: max chunk uploads in flight.
//   - ChunkRetries: per-chunk retry attempts for transient failures.
//   - RetryBaseDelay / RetryMaxDelay: exponential backoff bounds.
type Config struct {
	ServerEndpointAddr string
	AuthToken          string
	ChunkConcurrency   int
	ChunkRetries       int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.ChunkConcurrency = 4
	c.ChunkRetries = 5
	c.RetryBaseDelay = 500 * time.Millisecond
	c.RetryMaxDelay = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
