// Package mailbox implements file-based IPC between triad processes.
// Messages are JSON files dropped into per-agent inbox directories; a
// message becomes visible atomically via rename, so a reader never sees a
// partial write.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to dir/name by way of a temp file in the same
// directory followed by a rename. Same-directory matters: rename is only
// atomic within a filesystem.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create mailbox dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
