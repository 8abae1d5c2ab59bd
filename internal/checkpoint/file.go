package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	entrySuffix = ".json"
	tempPrefix  = ".tmp-"
)

// FileStore keeps one JSON file per entry under <dir>/<runId>/<stageId>.json.
// Files are written to a temp file in the same directory, fsynced and renamed
// into place, so a crash never leaves a partial entry visible to Load.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *FileStore) path(runID, stageID string) string {
	return filepath.Join(s.runDir(runID), stageID+entrySuffix)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}

	target := s.path(e.RunID, e.StageID)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	dir := s.runDir(e.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	// Data must round-trip byte-for-byte for Verify; no indentation.
	content, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return syncDir(dir)
}

// syncDir makes the rename durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open run dir: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync run dir: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, runID, stageID string) (Entry, error) {
	if err := ValidateKey(runID); err != nil {
		return Entry{}, err
	}
	if err := ValidateKey(stageID); err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(s.path(runID, stageID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("parse checkpoint %s/%s: %w", runID, stageID, err)
	}
	if e.RunID != runID || e.StageID != stageID {
		return Entry{}, fmt.Errorf("checkpoint %s/%s: key mismatch (%s/%s)", runID, stageID, e.RunID, e.StageID)
	}
	return e, nil
}

// ListCompleted implements Store. Temp files are ignored.
func (s *FileStore) ListCompleted(ctx context.Context, runID string) ([]string, error) {
	if err := ValidateKey(runID); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.runDir(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		e, err := s.Load(ctx, runID, strings.TrimSuffix(name, entrySuffix))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return sortByIndex(entries), nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, runID string) error {
	if err := ValidateKey(runID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Runs lists run ids that have at least one checkpoint directory.
func (s *FileStore) Runs() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []string
	for _, de := range dirEntries {
		if de.IsDir() && ValidateKey(de.Name()) == nil {
			runs = append(runs, de.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}
