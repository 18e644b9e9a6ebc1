package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileBackend implements storage backed by local files with versioning.
// Versions are kept next to the config file as "<path>.v<n>" with a sidecar
// metadata file listing version IDs and comments.
type FileBackend struct {
	path        string
	maxVersions int
}

type versionMeta struct {
	Versions []Version `yaml:"versions"`
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(cfg *StorageConfig) (*FileBackend, error) {
	if cfg.Path == "" {
		cfg.Path = "config.yaml"
	}
	if cfg.Versions == 0 {
		cfg.Versions = 5
	}

	return &FileBackend{
		path:        cfg.Path,
		maxVersions: cfg.Versions,
	}, nil
}

// Load loads the current configuration from the file
func (fb *FileBackend) Load() (*Config, error) {
	return LoadConfig(fb.path)
}

// Save saves the configuration and creates a versioned backup of the
// previous contents
func (fb *FileBackend) Save(cfg *Config, comment string) error {
	if err := fb.snapshotCurrent(comment); err != nil {
		return fmt.Errorf("failed to snapshot current config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(fb.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ListVersions returns the available configuration versions, newest first
func (fb *FileBackend) ListVersions() ([]Version, error) {
	meta, err := fb.loadMeta()
	if err != nil {
		return nil, err
	}
	return meta.Versions, nil
}

// LoadVersion loads a specific version of the configuration
func (fb *FileBackend) LoadVersion(id string) (*Config, error) {
	meta, err := fb.loadMeta()
	if err != nil {
		return nil, err
	}
	for i, v := range meta.Versions {
		if v.ID == id {
			return LoadConfig(fb.versionPath(i))
		}
	}
	return nil, fmt.Errorf("version %q not found", id)
}

// Rollback replaces the current configuration with a stored version
func (fb *FileBackend) Rollback(id string) error {
	cfg, err := fb.LoadVersion(id)
	if err != nil {
		return err
	}
	return fb.Save(cfg, fmt.Sprintf("rollback to %s", id))
}

// snapshotCurrent shifts existing versions down one slot and stores the
// current file as version 0. Oldest versions beyond maxVersions are dropped.
func (fb *FileBackend) snapshotCurrent(comment string) error {
	current, err := os.ReadFile(fb.path)
	if os.IsNotExist(err) {
		return nil // nothing to snapshot yet
	}
	if err != nil {
		return err
	}

	meta, err := fb.loadMeta()
	if err != nil {
		return err
	}

	// Shift files before prepending the new version record.
	limit := len(meta.Versions)
	if limit > fb.maxVersions-1 {
		limit = fb.maxVersions - 1
	}
	for i := limit - 1; i >= 0; i-- {
		if err := os.Rename(fb.versionPath(i), fb.versionPath(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.WriteFile(fb.versionPath(0), current, 0600); err != nil {
		return err
	}

	meta.Versions = append([]Version{{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Comment:   comment,
	}}, meta.Versions...)
	if len(meta.Versions) > fb.maxVersions {
		meta.Versions = meta.Versions[:fb.maxVersions]
	}

	return fb.saveMeta(meta)
}

func (fb *FileBackend) versionPath(n int) string {
	return fmt.Sprintf("%s.v%d", fb.path, n)
}

func (fb *FileBackend) metaPath() string {
	return fb.path + ".versions.yaml"
}

func (fb *FileBackend) loadMeta() (*versionMeta, error) {
	data, err := os.ReadFile(fb.metaPath())
	if os.IsNotExist(err) {
		return &versionMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read version metadata: %w", err)
	}
	var meta versionMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse version metadata: %w", err)
	}
	return &meta, nil
}

func (fb *FileBackend) saveMeta(meta *versionMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal version metadata: %w", err)
	}
	return os.WriteFile(fb.metaPath(), data, 0600)
}
