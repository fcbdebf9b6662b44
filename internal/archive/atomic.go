package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrArchiveExists is returned when the final archive name is already taken.
var ErrArchiveExists = errors.New("archive already exists")

// partialName returns the hidden temp name used while an archive is written.
func partialName(finalPath string) string {
	dir, base := filepath.Split(finalPath)
	return filepath.Join(dir, "."+base+".partial-"+uuid.NewString())
}

// publish makes tmp visible as final without ever replacing an existing file,
// then removes tmp. Filesystems without hard links fall back to an exclusive
// create plus rename.
func publish(tmp, final string) error {
	err := os.Link(tmp, final)
	switch {
	case err == nil:
		return os.Remove(tmp)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %s", ErrArchiveExists, final)
	}

	// Reserve the name, then move the complete file over the reservation.
	f, cerr := os.OpenFile(final, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if cerr != nil {
		if errors.Is(cerr, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrArchiveExists, final)
		}
		return fmt.Errorf("link %s: %w", final, err)
	}
	_ = f.Close()
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(final)
		return fmt.Errorf("rename %s: %w", final, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
