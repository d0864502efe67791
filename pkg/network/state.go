package network

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppliedRecord is the persisted summary of the last fully successful apply.
type AppliedRecord struct {
	IntentName    string     `json:"intentName" yaml:"intent_name"`
	IntentVersion string     `json:"intentVersion" yaml:"intent_version"`
	AppliedAt     *time.Time `json:"appliedAt" yaml:"applied_at"`
	IntentHash    string     `json:"intentHash" yaml:"intent_hash"`
}

// stateStore handles loading and saving the AppliedRecord to a YAML file.
// An empty path disables persistence.
type stateStore struct {
	path string
}

func newStateStore(path string) *stateStore {
	return &stateStore{path: path}
}

func (s *stateStore) load() (AppliedRecord, error) {
	var rec AppliedRecord
	if s.path == "" {
		return rec, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return rec, err
	}

	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return AppliedRecord{}, fmt.Errorf("parsing controller state: %w", err)
	}
	return rec, nil
}

// save writes rec via a temp file and rename, so a crash mid-write leaves
// the previous record intact.
func (s *stateStore) save(rec AppliedRecord) error {
	if s.path == "" {
		return nil
	}

	raw, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling controller state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing controller state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing controller state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing controller state: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing controller state to %s: %w", s.path, err)
	}
	return nil
}
