package state

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Store abstracts state persistence so components can be tested against an
// in-memory implementation.
type Store interface {
	// Load returns a usable state. It never fails: a corrupt primary file
	// falls back to the backup, and a corrupt backup degrades to empty.
	Load() *State
	// Save persists the state. It reports failure instead of returning an
	// error so callers on the hot path can log and continue.
	Save(*State) bool
}

// FileStore persists the state document as JSON next to two sibling files:
// a backup holding the previous version and a scratch temp file.
//
// The save sequence is write-temp, copy-primary-to-backup, rename-temp-over-
// primary. The rename is atomic on POSIX filesystems, so the primary is
// always either entirely the old version or entirely the new one, even if
// the process dies mid-save. Two processes sharing one FileStore can still
// lose updates to each other; the deployment model is one active instance.
type FileStore struct {
	path string
}

// NewFileStore creates a store rooted at path (the primary file). The
// backup and temp files live alongside it.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) backupPath() string {
	return withSuffix(fs.path, "_backup")
}

func (fs *FileStore) tempPath() string {
	return withSuffix(fs.path, "_temp")
}

// withSuffix inserts suffix before the file extension:
// pending.json -> pending_backup.json.
func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + suffix + ext
}

// Load reads the primary file, falling back to the backup, falling back to
// an empty document. Loss of both files resets in-flight conversations; an
// accepted tradeoff, not a crash.
func (fs *FileStore) Load() *State {
	if st, err := readStateFile(fs.path); err == nil {
		slog.Debug("loaded state", "path", fs.path,
			"conversations", len(st.PendingConversations), "outstanding_tasks", len(st.OutstandingTasks))
		return st
	} else if !os.IsNotExist(err) {
		slog.Warn("primary state file unreadable, trying backup", "path", fs.path, "error", err)
	}

	if st, err := readStateFile(fs.backupPath()); err == nil {
		slog.Warn("recovered state from backup", "path", fs.backupPath(),
			"conversations", len(st.PendingConversations), "outstanding_tasks", len(st.OutstandingTasks))
		return st
	} else if !os.IsNotExist(err) {
		slog.Warn("backup state file unreadable, starting empty", "path", fs.backupPath(), "error", err)
	}

	return New()
}

func readStateFile(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	st.normalize()
	return &st, nil
}

// Save writes st to disk using the temp/backup/rename sequence. On any
// failure it removes the temp file and returns false.
func (fs *FileStore) Save(st *State) bool {
	st.Metadata.LastSave = time.Now()
	st.Metadata.Version = Version

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		slog.Error("marshaling state", "error", err)
		return false
	}

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("creating state directory", "dir", dir, "error", err)
			return false
		}
	}

	tmp := fs.tempPath()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Error("writing temp state file", "path", tmp, "error", err)
		os.Remove(tmp)
		return false
	}

	// Keep the previous version reachable before the rename clobbers it.
	if _, err := os.Stat(fs.path); err == nil {
		if err := copyFile(fs.path, fs.backupPath()); err != nil {
			slog.Error("backing up state file", "error", err)
			os.Remove(tmp)
			return false
		}
	}

	if err := os.Rename(tmp, fs.path); err != nil {
		slog.Error("replacing state file", "error", err)
		os.Remove(tmp)
		return false
	}

	slog.Debug("saved state", "path", fs.path,
		"conversations", len(st.PendingConversations), "outstanding_tasks", len(st.OutstandingTasks))
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
