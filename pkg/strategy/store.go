package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists strategies
type Store interface {
	Save(s *Strategy) error
	Delete(id string) error
	Get(id string) (*Strategy, error)
	List() ([]*Strategy, error)
}

// FileStore keeps one JSON or YAML document per strategy under a directory.
// New documents use the store's format; existing documents keep theirs.
type FileStore struct {
	baseDir string
	format  string
	mu      sync.RWMutex
}

var documentExts = []string{".json", ".yaml", ".yml"}

// NewFileStore creates a file store. format is "json" (default) or "yaml".
func NewFileStore(baseDir, format string) (*FileStore, error) {
	switch format {
	case "", "json":
		format = "json"
	case "yaml", "yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("unsupported strategy format: %s (supported: json, yaml)", format)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create strategy directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, format: format}, nil
}

// Dir returns the store directory
func (s *FileStore) Dir() string {
	return s.baseDir
}

// existing returns the path of the document holding id, if any
func (s *FileStore) existing(id string) string {
	for _, ext := range documentExts {
		path := filepath.Join(s.baseDir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Save writes a strategy document
func (s *FileStore) Save(st *Strategy) error {
	if st == nil || st.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	if strings.ContainsAny(st.ID, `/\`) {
		return fmt.Errorf("invalid strategy id %q", st.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.existing(st.ID)
	if path == "" {
		path = filepath.Join(s.baseDir, st.ID+"."+s.format)
	}

	data, err := encodeStrategy(st, filepath.Ext(path))
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write strategy file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace strategy file: %w", err)
	}
	return nil
}

// Delete removes a strategy document
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.existing(id)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove strategy file: %w", err)
	}
	return nil
}

// Get reads a single strategy
func (s *FileStore) Get(id string) (*Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.existing(id)
	if path == "" {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return LoadFile(path)
}

// List reads every strategy document in the directory
func (s *FileStore) List() ([]*Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy directory: %w", err)
	}

	var out []*Strategy
	for _, entry := range entries {
		if entry.IsDir() || !isDocument(entry.Name()) {
			continue
		}
		st, err := LoadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func isDocument(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range documentExts {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadFile reads a strategy from a JSON or YAML document. A document
// without an id takes its file name.
func LoadFile(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var st Strategy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("failed to parse JSON strategy %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("failed to parse YAML strategy %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported strategy file format: %s (supported: .json, .yaml, .yml)", filepath.Ext(path))
	}

	if st.ID == "" {
		st.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &st, nil
}

func encodeStrategy(st *Strategy, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal strategy: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal strategy: %w", err)
		}
		return data, nil
	}
}
