package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/flagx"
	"github.com/chunkdrive/chunkdrive/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "24h"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	DatabaseDSN       string         `json:"database_dsn"`
	SecretKey         string         `json:"secret_key"`
	ChunkSize         uint64         `json:"chunk_size"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	DefaultQuotaBytes uint64         `json:"default_quota_bytes"`
	SweepInterval     timex.Duration `json:"sweep_interval"`
	BlobBackend       string         `json:"blob_backend"`
	BlobLocalPath     string         `json:"blob_local_path"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file cannot be read or contains invalid JSON, the function panics.
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.ChunkSize = c.ChunkSize
	config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	config.DefaultQuotaBytes = c.DefaultQuotaBytes
	config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	config.BlobBackend = c.BlobBackend
	config.BlobLocalPath = c.BlobLocalPath
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
