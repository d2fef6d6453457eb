package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.ServerEndpointAddr, "http://127.0.0.1:8080")
	assert.Equal(t, c.ChunkConcurrency, 4)
	assert.Equal(t, c.ChunkRetries, 5)
	assert.Equal(t, c.RetryBaseDelay, 500*time.Millisecond)
	assert.Equal(t, c.RetryMaxDelay, 30*time.Second)
}

func TestParseFlags(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

	os.Args = []string{"cmd",
		"-a", "http://example:9000", "-t", "tok",
		"-j", "8", "-r", "2", "-d", "100", "-m", "5000",
	}

	config := &Config{}
	require.NotPanics(t, func() { parseFlags(config) })

	assert.Equal(t, &Config{
		ServerEndpointAddr: "http://example:9000",
		AuthToken:          "tok",
		ChunkConcurrency:   8,
		ChunkRetries:       2,
		RetryBaseDelay:     100 * time.Millisecond,
		RetryMaxDelay:      5 * time.Second,
	}, config)
}
