package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

// WalkFunc is called for each archive entry. r yields the entry content.
type WalkFunc func(hdr *tar.Header, r io.Reader) error

// Walk calls fn for every entry of the tar.gz archive at path, in order.
func Walk(ctx context.Context, path string, fn WalkFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// ReadManifest lists the role directories of an archive by reading it fully,
// which also proves the compressed stream is intact.
func ReadManifest(ctx context.Context, path string) (*domain.Manifest, error) {
	m := domain.NewManifest(path)
	err := Walk(ctx, path, func(hdr *tar.Header, r io.Reader) error {
		role, rel := SplitEntry(hdr.Name)
		if role == "" || rel == "" {
			return nil
		}
		m.Add(role)
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return fmt.Errorf("read %s: %w", hdr.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SplitEntry splits an archive member name into its role directory and the
// root-relative path below it: "firewall/etc/iptables/rules.v4" gives
// ("firewall", "etc/iptables/rules.v4").
func SplitEntry(name string) (domain.Role, string) {
	name = cleanEntryName(name)
	if name == "" {
		return "", ""
	}
	role, rel, _ := strings.Cut(name, "/")
	return domain.Role(role), rel
}
