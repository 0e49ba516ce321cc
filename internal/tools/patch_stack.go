package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// BackupEntry records the previous contents of a file overwritten by a proposal.
type BackupEntry struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	TargetPath string    `json:"target_path"`
	FileName   string    `json:"file_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type backupStack struct {
	Entries []BackupEntry `json:"entries"`
}

// latestFor returns the newest entry for a target path.
func (s *backupStack) latestFor(target string) *BackupEntry {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].TargetPath == target {
			return &s.Entries[i]
		}
	}
	return nil
}

func loadBackupStack(path string) (*backupStack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &backupStack{}, nil
		}
		return nil, err
	}
	var s backupStack
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *backupStack) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}
