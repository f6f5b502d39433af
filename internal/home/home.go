package home

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDirName is the default name for the magicscan home directory.
	DefaultDirName = ".magicscan"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	UploadsDirName = "uploads"
	ExportsDirName = "exports"
	ModelsDirName  = "models"
)

// Dir represents the magicscan home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.magicscan).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// UploadsDir holds documents received through the upload endpoint.
func (d *Dir) UploadsDir() string {
	return filepath.Join(d.path, UploadsDirName)
}

// ExportsDir holds JSON and XLSX result files.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, ExportsDirName)
}

// ModelsDir is mounted into the local model runtime so weights survive
// container restarts.
func (d *Dir) ModelsDir() string {
	return filepath.Join(d.path, ModelsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.UploadsDir(), d.ExportsDir(), d.ModelsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// NewUploadDir creates a fresh directory for one upload request.
// The caller removes it when the request is done.
func (d *Dir) NewUploadDir() (string, error) {
	dir := filepath.Join(d.UploadsDir(), uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	return dir, nil
}

// ExportPath returns a timestamped path in the exports directory,
// e.g. exports/results_20240115-093000.xlsx.
func (d *Dir) ExportPath(prefix, ext string, now time.Time) string {
	return filepath.Join(d.ExportsDir(), fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102-150405"), ext))
}
