package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// latestName is the sibling pointer file spec.md §6 requires: after a named
// snapshot file lands, this file is rewritten (atomically, same as the
// snapshot itself) to hold that file's name so a restart can find the most
// recent snapshot without listing the directory.
const latestName = "latest"

// WriteFile serializes snap and writes it to dir/name, then updates
// dir/latest to point at name. Both writes go through a temp-file-then-
// rename so a crash mid-write never leaves a partial file at the final
// path — a reader either sees the old complete file or the new one.
func WriteFile(dir, name string, snap WorldSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	if err := writeAtomic(filepath.Join(dir, latestName), []byte(name)); err != nil {
		return fmt.Errorf("snapshot: update latest pointer: %w", err)
	}
	return nil
}

// ReadFile loads and unmarshals dir/name. It does not check Version — call
// Restore (or check snap.Version directly) to enforce that.
func ReadFile(dir, name string) (WorldSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return WorldSnapshot{}, fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	var snap WorldSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return WorldSnapshot{}, fmt.Errorf("snapshot: corrupt bytes in %s: %w", name, err)
	}
	return snap, nil
}

// ReadLatest follows dir/latest to the most recent snapshot file and loads
// it. Returns os.ErrNotExist (wrapped) if no snapshot has ever been written
// to dir.
func ReadLatest(dir string) (WorldSnapshot, error) {
	name, err := os.ReadFile(filepath.Join(dir, latestName))
	if err != nil {
		return WorldSnapshot{}, fmt.Errorf("snapshot: read latest pointer: %w", err)
	}
	return ReadFile(dir, string(name))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
