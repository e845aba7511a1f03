package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a corrupted snapshot aside so a fresh one can be written.
// The original bytes are preserved under dataDir/quarantine for inspection.
func Quarantine(dataDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(dataDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().UTC().Format("20060102T150405")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return quarantinePath, nil
}

// RestoreFromBackup copies path.bak over path, if a valid backup exists.
func RestoreFromBackup(path string, validate func([]byte) error) error {
	bakPath := path + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if validate != nil {
		if err := validate(content); err != nil {
			return fmt.Errorf("backup is also corrupted: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}
