package bootstrap

import "errors"

// Bootstrap failure taxonomy. All three are retryable from the caller's
// point of view; the Retryer absorbs them up to its attempt ceiling.
var (
	// ErrBootstrapTimeout means the server never became ready within the
	// configured bound.
	ErrBootstrapTimeout = errors.New("server did not become ready within the bootstrap timeout")

	// ErrClaimFailed means the claim handshake was rejected. Repeated claim
	// failures across all attempts usually indicate a bad credential.
	ErrClaimFailed = errors.New("claim handshake rejected")

	// ErrContainerStart means the container could not be created or started.
	ErrContainerStart = errors.New("server container failed to start")
)
