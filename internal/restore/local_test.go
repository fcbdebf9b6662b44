package restore

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/fleet-backup/internal/domain"
)

func extractAll(t *testing.T, root, archivePath string, sel domain.RoleSelector) (int, error) {
	t.Helper()
	ex, err := NewLocalExtractor(root, nil).Open(context.Background(), "web01", archivePath)
	require.NoError(t, err)
	defer ex.Close()
	return ex.Extract(context.Background(), sel)
}

func TestLocalExtractor_LinksAndOverwrite(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	archivePath := writeArchive(t,
		file("net-bonding/etc/netplan/01-bond.yaml", "network: {}"),
		entry{name: "net-bonding/etc/netplan/current.yaml", typeflag: tar.TypeSymlink, linkname: "01-bond.yaml"},
		entry{name: "net-bonding/etc/netplan/copy.yaml", typeflag: tar.TypeLink, linkname: "net-bonding/etc/netplan/01-bond.yaml"},
	)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc", "netplan"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "netplan", "01-bond.yaml"), []byte("stale"), 0o600))

	n, err := extractAll(t, root, archivePath, domain.SelectRole("net-bonding"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(root, "etc", "netplan", "01-bond.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "network: {}", string(data))

	link, err := os.Readlink(filepath.Join(root, "etc", "netplan", "current.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "01-bond.yaml", link)

	a, err := os.Stat(filepath.Join(root, "etc", "netplan", "01-bond.yaml"))
	require.NoError(t, err)
	b, err := os.Stat(filepath.Join(root, "etc", "netplan", "copy.yaml"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))
}

func TestLocalExtractor_SymlinkCannotRedirectWrites(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	archivePath := writeArchive(t,
		entry{name: "bright/cm/shared", typeflag: tar.TypeSymlink, linkname: outside},
		file("bright/cm/shared/evil", "x"),
	)
	root := t.TempDir()

	_, err := extractAll(t, root, archivePath, domain.SelectAll())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalExtractor_PathTraversal(t *testing.T) {
	archivePath := writeArchive(t, file("firewall/../../escape", "x"))
	root := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.Mkdir(root, 0o755))

	_, _ = extractAll(t, root, archivePath, domain.SelectAll())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape"))
}

func TestLocalExtractor_MissingRoot(t *testing.T) {
	_, err := NewLocalExtractor(filepath.Join(t.TempDir(), "nope"), nil).Open(context.Background(), "web01", "x.tar.gz")
	assert.Error(t, err)
}
