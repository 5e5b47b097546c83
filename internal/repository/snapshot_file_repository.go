package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

const (
	sessionDirPrefix = "session_"
	indexFileName    = "index.bin"
	chunksFileName   = "chunks.json"
	backupDirName    = "backup"
	tmpSuffix        = ".tmp-*"
	oldSuffix        = ".old-"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileSnapshotRepository keeps one directory per session:
// <root>/session_<id>/backup/{index.bin,chunks.json}.
type FileSnapshotRepository struct {
	root string
}

func NewFileSnapshotRepository(root string) (*FileSnapshotRepository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot root failed: %w", err)
	}
	return &FileSnapshotRepository{root: root}, nil
}

func (r *FileSnapshotRepository) backupDir(sessionID string) (string, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: bad session id %q", rag.ErrInvalidInput, sessionID)
	}
	return filepath.Join(r.root, sessionDirPrefix+sessionID, backupDirName), nil
}

// Save writes index.bin and chunks.json into a fresh temp directory and swaps it in
// for the previous backup, so the two files are always replaced as a pair.
func (r *FileSnapshotRepository) Save(ctx context.Context, snap *model.SessionSnapshot) error {
	dir, err := r.backupDir(snap.SessionID)
	if err != nil {
		return err
	}
	sessDir := filepath.Dir(dir)
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		return fmt.Errorf("create session dir failed: %w", err)
	}
	meta, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot failed: %w", err)
	}

	tmpDir, err := os.MkdirTemp(sessDir, backupDirName+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp backup dir failed: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := writeSnapshotFile(filepath.Join(tmpDir, indexFileName), snap.Index); err != nil {
		return err
	}
	if err := writeSnapshotFile(filepath.Join(tmpDir, chunksFileName), meta); err != nil {
		return err
	}
	return swapDir(tmpDir, dir)
}

// swapDir replaces dst with src. The previous dst is parked under an .old name
// until src is in place, and restored if the final rename fails.
func swapDir(src, dst string) error {
	old := fmt.Sprintf("%s%s%d", dst, oldSuffix, time.Now().UnixNano())
	hadOld := true
	if err := os.Rename(dst, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("park previous backup failed: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("install session backup failed: %w", err)
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}
	return nil
}

// recoverInterrupted puts back a parked backup when a crash hit between the two
// renames of swapDir.
func recoverInterrupted(sessDir string) {
	dst := filepath.Join(sessDir, backupDirName)
	if _, err := os.Stat(dst); err == nil {
		return
	}
	parked, _ := filepath.Glob(filepath.Join(sessDir, backupDirName+oldSuffix+"*"))
	if len(parked) == 0 {
		return
	}
	sort.Strings(parked)
	_ = os.Rename(parked[len(parked)-1], dst)
}

// Touch updates the backup's mtime. Files do not expire, so this only records use.
func (r *FileSnapshotRepository) Touch(ctx context.Context, sessionID string) error {
	dir, err := r.backupDir(sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(dir, now, now); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("touch session backup failed: %w", err)
	}
	return nil
}

func (r *FileSnapshotRepository) Load(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	dir, err := r.backupDir(sessionID)
	if err != nil {
		return nil, err
	}
	recoverInterrupted(filepath.Dir(dir))
	meta, err := os.ReadFile(filepath.Join(dir, chunksFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", rag.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read session snapshot failed: %w", err)
	}
	index, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read session index: %w", rag.ErrCorrupted, err)
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(meta, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", rag.ErrCorrupted, chunksFileName, err)
	}
	if snap.SessionID == "" {
		snap.SessionID = sessionID
	}
	snap.Index = index
	return &snap, nil
}

func (r *FileSnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: bad session id %q", rag.ErrInvalidInput, sessionID)
	}
	if err := os.RemoveAll(filepath.Join(r.root, sessionDirPrefix+sessionID)); err != nil {
		return fmt.Errorf("delete session snapshot failed: %w", err)
	}
	return nil
}

func (r *FileSnapshotRepository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list snapshot root failed: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sessionDirPrefix) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), sessionDirPrefix)
		recoverInterrupted(filepath.Join(r.root, e.Name()))
		if _, err := os.Stat(filepath.Join(r.root, e.Name(), backupDirName, chunksFileName)); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// writeSnapshotFile is replaced in tests to simulate a failing disk.
var writeSnapshotFile = writeFileSync

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s failed: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s failed: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s failed: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s failed: %w", filepath.Base(path), err)
	}
	return nil
}
