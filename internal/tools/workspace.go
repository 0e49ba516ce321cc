package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/proposal"
)

var (
	// ErrWriteDisabled is returned when workspace writes are turned off.
	ErrWriteDisabled = errors.New("write is disabled by configuration")
	// ErrFileExists is returned when a create targets an existing file.
	ErrFileExists = errors.New("file already exists")
	// ErrFileMissing is returned when a modify targets a missing file.
	ErrFileMissing = errors.New("file does not exist")
)

const backupIndex = "stack.json"

// Workspace applies approved proposals to files under a root directory.
type Workspace struct {
	guard      *PathGuard
	allowWrite bool
	backupDir  string
	logger     *zap.Logger

	mu sync.Mutex
}

// NewWorkspace builds a workspace. A relative backupDir is resolved under root; empty disables backups.
func NewWorkspace(root string, allowWrite bool, backupDir string, logger *zap.Logger) (*Workspace, error) {
	guard, err := NewPathGuard(root)
	if err != nil {
		return nil, err
	}
	if backupDir != "" && !filepath.IsAbs(backupDir) {
		backupDir = filepath.Join(guard.Root, backupDir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{guard: guard, allowWrite: allowWrite, backupDir: backupDir, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.guard.Root
}

// ReadFile returns file contents as string.
func (w *Workspace) ReadFile(path string) (string, error) {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write creates or replaces a file. Create refuses to overwrite and modify refuses to create;
// the previous contents of a modified file are kept in the backup directory.
func (w *Workspace) Write(path, content string, op proposal.Operation) error {
	if !w.allowWrite {
		return ErrWriteDisabled
	}
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	info, statErr := os.Stat(resolved)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return statErr
	}
	if exists && info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	switch op {
	case proposal.OpCreate:
		if exists {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	case proposal.OpModify:
		if !exists {
			return fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		if err := w.backup(path, resolved); err != nil {
			return fmt.Errorf("backup %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if exists {
		mode = info.Mode().Perm()
	}
	if err := writeFileAtomic(resolved, []byte(content), mode); err != nil {
		return err
	}
	w.logger.Info("file written", zap.String("path", path), zap.String("operation", string(op)), zap.Int("bytes", len(content)))
	return nil
}

// Backups lists saved backups, oldest first.
func (w *Workspace) Backups() ([]BackupEntry, error) {
	if w.backupDir == "" {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	stack, err := loadBackupStack(filepath.Join(w.backupDir, backupIndex))
	if err != nil {
		return nil, err
	}
	return stack.Entries, nil
}

func (w *Workspace) backup(rel, resolved string) error {
	if w.backupDir == "" {
		return nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return err
	}
	indexPath := filepath.Join(w.backupDir, backupIndex)
	stack, err := loadBackupStack(indexPath)
	if err != nil {
		return err
	}
	entry := BackupEntry{
		ID:         uuid.NewString(),
		TargetPath: filepath.ToSlash(filepath.Clean(rel)),
		CreatedAt:  time.Now().UTC(),
	}
	if prev := stack.latestFor(entry.TargetPath); prev != nil {
		entry.ParentID = prev.ID
	}
	entry.FileName = entry.ID + ".bak"
	if err := os.MkdirAll(w.backupDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.backupDir, entry.FileName), data, 0o600); err != nil {
		return err
	}
	stack.Entries = append(stack.Entries, entry)
	return stack.save(indexPath)
}

// writeFileAtomic writes to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
