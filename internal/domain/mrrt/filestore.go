package mrrt

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/radiology/internal/platform/apperr"
)

// StoredFile describes a file under the template root.
type StoredFile struct {
	Path    string
	ModTime time.Time
}

// FileStore keeps template documents verbatim under a root directory, one
// file per template named by a fresh UUID.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

// Root returns the absolute root directory, creating it when absent.
func (s *FileStore) Root() (string, error) {
	if s.root == "" {
		return "", apperr.Configuration("radiology.mrrtReportTemplateDir is not configured")
	}
	abs, err := filepath.Abs(s.root)
	if err != nil {
		return "", apperr.Configuration("radiology.mrrtReportTemplateDir is not a valid path")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", apperr.Storage("could not create template directory", err)
	}
	return abs, nil
}

// Write stores contents in a new file and returns its absolute path.
func (s *FileStore) Write(ctx context.Context, contents []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root, err := s.Root()
	if err != nil {
		return "", err
	}

	path := filepath.Join(root, uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.Storage("could not create template file", err)
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		os.Remove(path)
		return "", apperr.Storage("could not write template file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", apperr.Storage("could not write template file", err)
	}
	return path, nil
}

// Read returns the contents of the file at path.
func (s *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, apperr.Storage("template has no file", fs.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Storage("could not read template file", err)
	}
	return data, nil
}

// Delete removes the file at path. A file that is already gone is not an
// error. Existing files outside the root are never removed.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	root, err := s.Root()
	if err != nil {
		return err
	}
	if !within(root, path) {
		return apperr.Storage("refusing to delete file outside template directory", fs.ErrPermission)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Storage("could not delete template file", err)
	}
	return nil
}

// List returns the regular files directly under the root.
func (s *FileStore) List(ctx context.Context) ([]StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, apperr.Storage("could not list template directory", err)
	}
	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{Path: filepath.Join(root, e.Name()), ModTime: info.ModTime()})
	}
	return files, nil
}

func within(root, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
