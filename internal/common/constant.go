package common

// AuthorizationHeaderName carries the opaque bearer credential on every
// pipeline request. Credential validation itself is external; the pipeline
// only reacts to an unauthorized signal.
const AuthorizationHeaderName = "Authorization"

// ChunkChecksumHeaderName carries the hex sha256 of a chunk payload.
const ChunkChecksumHeaderName = "X-Chunk-Checksum"
