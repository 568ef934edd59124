package docker

import (
	"fmt"
	"strings"
)

// EngineError represents a user-friendly Docker error with remediation steps.
type EngineError struct {
	Op        string   // Operation that failed (e.g., "connect", "pull", "start")
	Err       error    // Underlying error
	Message   string   // Human-readable message
	NextSteps []string // Suggested remediation steps
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// FormatUserError formats the error for display to users.
func (e *EngineError) FormatUserError() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))

	if e.Err != nil {
		sb.WriteString(fmt.Sprintf("  Details: %s\n", e.Err.Error()))
	}

	if len(e.NextSteps) > 0 {
		sb.WriteString("\nNext Steps:\n")
		for i, step := range e.NextSteps {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, step))
		}
	}

	return sb.String()
}

// ErrDaemonNotRunning returns an error for when the Docker daemon is not accessible.
func ErrDaemonNotRunning(err error) *EngineError {
	return &EngineError{
		Op:      "connect",
		Err:     err,
		Message: "Cannot connect to Docker daemon",
		NextSteps: []string{
			"Ensure Docker is installed on the runner",
			"Start the daemon: sudo systemctl start docker",
			"Check if the socket is accessible: ls -la /var/run/docker.sock",
		},
	}
}

// ErrImagePullFailed returns an error for when an image cannot be pulled.
func ErrImagePullFailed(image string, err error) *EngineError {
	return &EngineError{
		Op:      "pull",
		Err:     err,
		Message: fmt.Sprintf("Failed to pull image '%s'", image),
		NextSteps: []string{
			"Check the image name and tag are correct",
			"Verify network access to the registry",
			"Try pulling manually: docker pull " + image,
		},
	}
}

// ErrContainerCreateFailed returns an error for when container creation fails.
func ErrContainerCreateFailed(err error) *EngineError {
	return &EngineError{
		Op:      "create",
		Err:     err,
		Message: "Failed to create server container",
		NextSteps: []string{
			"Check if the image exists locally",
			"Check for conflicting container names: docker ps -a",
			"Check for port conflicts on the advertised port",
		},
	}
}

// ErrContainerStartFailed returns an error for when a container fails to start.
func ErrContainerStartFailed(name string, err error) *EngineError {
	return &EngineError{
		Op:      "start",
		Err:     err,
		Message: fmt.Sprintf("Failed to start container '%s'", name),
		NextSteps: []string{
			"Check container logs: docker logs " + name,
			"Verify the image is valid",
			"Remove the stale container and retry: docker rm -f " + name,
		},
	}
}

// ErrArchiveFailed returns an error for image archive save/load failures.
func ErrArchiveFailed(op, path string, err error) *EngineError {
	return &EngineError{
		Op:      op,
		Err:     err,
		Message: fmt.Sprintf("Failed to %s image archive '%s'", op, path),
		NextSteps: []string{
			"Check the cache directory is writable",
			"Verify disk space is available",
			"Clear the cache directory and retry",
		},
	}
}
