package pipeline

import "errors"

// Errors returned by the pipeline. Every returned error wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrNoProviders        = errors.New("no healthy providers")
	ErrEncryptionFailure  = errors.New("encryption failure")
	ErrCodingFailure      = errors.New("erasure coding failure")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrManifestNotFound   = errors.New("manifest not found")
	ErrCorruptManifest    = errors.New("corrupt manifest")
	ErrCorruptChunk       = errors.New("corrupt chunk")
	ErrDispatchFailure    = errors.New("shard dispatch failure")
)
