package archive

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SidecarExtension is appended to an archive path to name its checksum file.
const SidecarExtension = ".sha256"

// ErrChecksumMismatch is returned when an archive does not match its sidecar.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// FileSHA256 hashes a file, checking ctx between chunks.
func FileSHA256(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteSidecar writes "<sum>  <basename>" to archivePath+".sha256", the
// format sha256sum -c understands.
func WriteSidecar(archivePath, sum string) error {
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archivePath))
	return writeFileAtomic(archivePath+SidecarExtension, []byte(line), 0o640)
}

// ReadSidecar returns the checksum recorded for archivePath. ok is false when
// no sidecar exists.
func ReadSidecar(archivePath string) (sum string, ok bool, err error) {
	f, err := os.Open(archivePath + SidecarExtension)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", false, err
		}
		return "", false, fmt.Errorf("%s%s is empty", filepath.Base(archivePath), SidecarExtension)
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return "", false, fmt.Errorf("%s%s is malformed", filepath.Base(archivePath), SidecarExtension)
	}
	sum = strings.ToLower(fields[0])
	if _, err := hex.DecodeString(sum); err != nil || len(sum) != sha256.Size*2 {
		return "", false, fmt.Errorf("%s%s is malformed", filepath.Base(archivePath), SidecarExtension)
	}
	return sum, true, nil
}

// VerifySidecar checks archivePath against its sidecar. verified is false
// when there is no sidecar to check against.
func VerifySidecar(ctx context.Context, archivePath string) (verified bool, err error) {
	want, ok, err := ReadSidecar(archivePath)
	if err != nil {
		return false, fmt.Errorf("read checksum: %w", err)
	}
	if !ok {
		return false, nil
	}
	got, err := FileSHA256(ctx, archivePath)
	if err != nil {
		return false, err
	}
	if got != want {
		return false, fmt.Errorf("%w: %s has %s, sidecar records %s", ErrChecksumMismatch, filepath.Base(archivePath), got, want)
	}
	return true, nil
}
