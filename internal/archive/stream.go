package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// paxBasicKeys are PAX records the tar writer derives from header fields.
var paxBasicKeys = map[string]bool{
	"path": true, "linkpath": true, "size": true,
	"uid": true, "gid": true, "uname": true, "gname": true,
	"mtime": true, "atime": true, "ctime": true,
}

// streamStats counts what rerootStream copied.
type streamStats struct {
	Entries  int
	Excluded int
	Bytes    int64
}

// rerootStream copies a tar stream from r into tw, placing every entry under
// prefix/ and dropping entries excluded by m. The root entry itself is skipped.
// After the end-of-archive marker, r is drained so the producer never blocks.
func rerootStream(tw *tar.Writer, r io.Reader, prefix string, m *Matcher) (streamStats, error) {
	var stats streamStats
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read remote tar stream: %w", err)
		}

		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		rel := cleanEntryName(hdr.Name)
		if rel == "" {
			continue
		}
		if m.Match(rel) {
			stats.Excluded++
			continue
		}

		out := *hdr
		out.Name = path.Join(prefix, rel)
		if hdr.Typeflag == tar.TypeDir {
			out.Name += "/"
		}
		if hdr.Typeflag == tar.TypeLink {
			target := cleanEntryName(hdr.Linkname)
			if target == "" || m.Match(target) {
				stats.Excluded++
				continue
			}
			out.Linkname = path.Join(prefix, target)
		}
		out.Format = tar.FormatUnknown
		out.PAXRecords = filterPAX(hdr.PAXRecords)

		if err := tw.WriteHeader(&out); err != nil {
			return stats, fmt.Errorf("write header for %s: %w", out.Name, err)
		}
		if out.Typeflag == tar.TypeReg {
			n, err := io.Copy(tw, tr)
			stats.Bytes += n
			if err != nil {
				return stats, fmt.Errorf("copy %s: %w", out.Name, err)
			}
		}
		stats.Entries++
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		return stats, fmt.Errorf("drain remote tar stream: %w", err)
	}
	return stats, nil
}

func filterPAX(records map[string]string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]string, len(records))
	for k, v := range records {
		if paxBasicKeys[k] || strings.HasPrefix(k, "GNU.sparse.") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
