package config

import (
	"flag"
	"os"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/flagx"
)

// parseFlags populates selected client Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server base URL (e.g., "http://127.0.0.1:8080")
//	-t string   bearer token
//	-j int      chunk uploads in flight
//	-r int      per-chunk retry attempts
//	-d int      retry base delay, milliseconds
//	-m int      retry max delay, milliseconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-j", "-r", "-d", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerEndpointAddr, "a", config.ServerEndpointAddr, "server base URL")
	fs.StringVar(&config.AuthToken, "t", config.AuthToken, "bearer token")
	fs.IntVar(&config.ChunkConcurrency, "j", config.ChunkConcurrency, "chunk uploads in flight")
	fs.IntVar(&config.ChunkRetries, "r", config.ChunkRetries, "per-chunk retry attempts")

	retryBaseDelay := fs.Int("d", int(config.RetryBaseDelay.Milliseconds()), "retry base delay (in milliseconds)")
	retryMaxDelay := fs.Int("m", int(config.RetryMaxDelay.Milliseconds()), "retry max delay (in milliseconds)")

	_ = fs.Parse(args)

	config.RetryBaseDelay = time.Duration(*retryBaseDelay) * time.Millisecond
	config.RetryMaxDelay = time.Duration(*retryMaxDelay) * time.Millisecond
}
