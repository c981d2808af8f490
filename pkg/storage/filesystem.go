// Package storage is a filesystem-backed reference implementation of the
// remote service. It keeps wire records in .stride/state.json.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/store"
)

const StrideDir = ".stride"
const StateFile = "state.json"
const ConfigFile = "config.yaml"

// ErrNotInitialized is returned when the workspace has no .stride directory.
var ErrNotInitialized = errors.New("workspace is not initialized; run 'stride init'")

type FilesystemRepository struct {
	root        string
	retryConfig retry.Config
	// mu serializes writers within this process.
	mu sync.Mutex
}

func NewFilesystemRepository(root string) *FilesystemRepository {
	return &FilesystemRepository{
		root: root,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

// Root returns the workspace root directory.
func (r *FilesystemRepository) Root() string {
	return r.root
}

// Dir returns the .stride directory.
func (r *FilesystemRepository) Dir() string {
	return filepath.Join(r.root, StrideDir)
}

// ResolvePath ensures the path is within the .stride directory and prevents traversal.
func (r *FilesystemRepository) ResolvePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}

	baseDir := r.Dir()
	cleanPath := filepath.Clean(filepath.Join(baseDir, filename))

	if !strings.HasPrefix(cleanPath, baseDir) || filepath.Dir(cleanPath) != baseDir {
		return "", fmt.Errorf("invalid file path: %s", filename)
	}
	return cleanPath, nil
}

// Initialize creates the .stride directory and seeds the state file with the
// default key area. An existing state file is left alone.
func (r *FilesystemRepository) Initialize() error {
	// G301: Use 0700 for directories
	if err := os.MkdirAll(r.Dir(), 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", StrideDir, err)
	}
	path, err := r.ResolvePath(StateFile)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	st := store.New()
	if err := st.Upsert(ordering.NewDefaultKeyArea(uuid.NewString())); err != nil {
		return err
	}
	return r.Save(st, 0)
}

func (r *FilesystemRepository) IsInitialized() bool {
	_, err := os.Stat(r.Dir())
	return err == nil
}

// Load reads and validates the state file.
func (r *FilesystemRepository) Load(ctx context.Context) (*store.Store, int, error) {
	if !r.IsInitialized() {
		return nil, 0, ErrNotInitialized
	}
	retryer := retry.New[*Document](r.retryConfig)

	doc, err := retryer.Do(ctx, func(ctx context.Context) (*Document, error) {
		path, err := r.ResolvePath(StateFile)
		if err != nil {
			return nil, err
		}

		// #nosec G304 -- Path is resolved and validated via ResolvePath
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &Document{}, nil
			}
			return nil, fmt.Errorf("failed to read state file: %w", err)
		}
		return ParseDocument(data)
	})
	if err != nil {
		return nil, 0, err
	}

	st, err := doc.Store()
	if err != nil {
		return nil, 0, err
	}
	return st, doc.Revision, nil
}

// Save writes the store content as the next revision. The write goes to a
// temporary file first so readers never see a torn document.
func (r *FilesystemRepository) Save(st *store.Store, revision int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.ResolvePath(StateFile)
	if err != nil {
		return err
	}

	doc, err := NewDocument(st.Snapshot(), revision+1)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(r.Dir(), StateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	// G306: Use 0600 for files
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
