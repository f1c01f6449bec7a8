package toolexecutor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manifest is the persisted form of a tool descriptor
type Manifest struct {
	Name                  string            `json:"name"`
	Category              string            `json:"category,omitempty"`
	Version               string            `json:"version,omitempty"`
	Description           string            `json:"description,omitempty"`
	Timeout               string            `json:"timeout,omitempty"`
	MaxRetries            *int              `json:"max_retries,omitempty"`
	Dependencies          []string          `json:"dependencies,omitempty"`
	DependencyConstraints map[string]string `json:"dependency_constraints,omitempty"`
	Parameters            []ToolParameter   `json:"parameters,omitempty"`
	RegisteredAt          time.Time         `json:"registered_at"`
}

// ManifestStore keeps one JSON document per tool under a directory
type ManifestStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewManifestStore creates a manifest store rooted at baseDir
func NewManifestStore(baseDir string) (*ManifestStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &ManifestStore{baseDir: baseDir}, nil
}

func manifestFromDescriptor(desc ToolDescriptor) Manifest {
	m := Manifest{
		Name:                  desc.Name,
		Category:              desc.Category,
		Version:               desc.Version,
		Description:           desc.Description,
		MaxRetries:            desc.MaxRetries,
		Dependencies:          desc.Dependencies,
		DependencyConstraints: desc.DependencyConstraints,
		Parameters:            desc.Parameters,
		RegisteredAt:          time.Now().UTC(),
	}
	if desc.Timeout > 0 {
		m.Timeout = desc.Timeout.String()
	}
	return m
}

// Save writes the manifest for a descriptor
func (s *ManifestStore) Save(desc ToolDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(manifestFromDescriptor(desc), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(s.baseDir, desc.Name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace manifest file: %w", err)
	}
	return nil
}

// Delete removes a tool's manifest
func (s *ManifestStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, name+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest file: %w", err)
	}
	return nil
}

// Get reads a single manifest
func (s *ManifestStore) Get(name string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest %s: %w", name, err)
	}
	return &m, nil
}

// List returns every manifest, sorted by name
func (s *ManifestStore) List() ([]*Manifest, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.baseDir)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		m, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, nil
}
