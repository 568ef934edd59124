package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schmitthub/plexup/internal/config"
)

// ReadyState tracks a server instance's lifecycle.
type ReadyState string

const (
	StateStarting ReadyState = "starting"
	StateReady    ReadyState = "ready"
	StateFailed   ReadyState = "failed"
)

// Instance is one running copy of the media server, created by the
// Bootstrapper and removed at the end of a matrix leg.
type Instance struct {
	ContainerID       string            `json:"container_id"`
	Name              string            `json:"name"`
	Destination       string            `json:"destination"`
	BaseURL           string            `json:"base_url"`
	MachineIdentifier string            `json:"machine_identifier"`
	Version           string            `json:"version"`
	ClaimState        config.ClaimState `json:"claim_state"`
	State             ReadyState        `json:"state"`
	BootstrappedAt    time.Time         `json:"bootstrapped_at"`
}

// SaveState persists the instance record so a later teardown invocation can
// find the server without any flags.
func SaveState(path string, inst *Instance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadState reads a previously saved instance record.
func LoadState(path string) (*Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no bootstrapped server found: %w", err)
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("corrupt instance state: %w", err)
	}
	return &inst, nil
}

// ClearState removes the instance record. Missing state is not an error.
func ClearState(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
