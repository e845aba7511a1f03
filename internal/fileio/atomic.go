// Package fileio provides atomic file I/O and quarantine utilities for
// bellman's persisted state. Writes go to a temp file in the target
// directory, are fsynced, verified, then renamed into place, so a crash
// mid-write never corrupts the previous snapshot.
package fileio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWriteJSON marshals data as indented JSON and writes it atomically.
func AtomicWriteJSON(path string, data any) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return writeAtomic(path, content)
}

// AtomicWriteYAML marshals data as YAML and writes it atomically.
func AtomicWriteYAML(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return writeAtomic(path, content)
}

// writeAtomic lands content at path via a same-directory temp file. The
// previous snapshot, when present, is preserved as path.bak before the
// rename. What was fsynced is re-read and compared byte for byte, catching a
// torn write before it can replace good state.
func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bellman-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
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

	onDisk, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("verify temp file: %w", err)
	}
	if !bytes.Equal(onDisk, content) {
		return fmt.Errorf("verify temp file: wrote %d bytes, read back %d", len(content), len(onDisk))
	}

	if err := backupExisting(path); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func backupExisting(path string) error {
	prev, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read previous snapshot: %w", err)
	}
	if err := os.WriteFile(path+".bak", prev, 0644); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return nil
}

// ValidateJSONBytes is the validation hook for JSON snapshots.
func ValidateJSONBytes(content []byte) error {
	var v any
	return json.Unmarshal(content, &v)
}
