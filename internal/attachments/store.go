// Package attachments stores note images as files in the application's private
// data directory.
package attachments

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errOutsideStore = errors.New("attachments: path is outside the attachment directory")

// Store copies attachment streams into a private directory under generated
// unique filenames and removes them when their owning note goes away.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore ensures the attachment directory exists and returns the store.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachments: directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: absDir, logger: logger}, nil
}

// Dir returns the absolute attachment directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies the stream into the attachment directory under
// <uuid>_<basename> and returns the stored file's absolute path.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	name := sanitizeName(originalName)
	path := filepath.Join(s.dir, uuid.NewString()+"_"+name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	s.logger.Debug("attachment stored", zap.String("path", path))
	return path, nil
}

// Remove deletes the attachment file. An empty path is a no-op and a missing
// file is not an error; paths outside the attachment directory are refused.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(absPath, s.dir+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", errOutsideStore, path)
	}
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the absolute paths of all stored attachment files.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	return paths, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "attachment"
	}
	return name
}
