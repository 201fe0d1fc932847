package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"CryptoBeacon/internal/model"
)

// LoadState reads the registry from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*model.RegistryState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.RegistryState{Deployments: map[string]*model.Deployment{}}, nil
		}
		return nil, err
	}
	var state model.RegistryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("registry %s: %w", filePath, err)
	}
	if state.Deployments == nil {
		state.Deployments = map[string]*model.Deployment{}
	}
	return &state, nil
}

// SaveState writes the registry through a temp file and rename.
func SaveState(filePath string, state *model.RegistryState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
