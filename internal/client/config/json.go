package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/flagx"
	"github.com/chunkdrive/chunkdrive/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like
// "500ms" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AuthToken          string         `json:"auth_token"`
	ChunkConcurrency   int            `json:"chunk_concurrency"`
	ChunkRetries       int            `json:"chunk_retries"`
	RetryBaseDelay     timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay      timex.Duration `json:"retry_max_delay"`
}

// parseJson overlays Config with values loaded from a JSON file found via
// the -c or -config flags. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	cfg.AuthToken = jc.AuthToken
	cfg.ChunkConcurrency = jc.ChunkConcurrency
	cfg.ChunkRetries = jc.ChunkRetries
	cfg.RetryBaseDelay = time.Duration(jc.RetryBaseDelay.Duration)
	cfg.RetryMaxDelay = time.Duration(jc.RetryMaxDelay.Duration)
}
