package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blakesmith/ar"

	"github.com/aept-project/aept/internal/fileset"
	"github.com/aept-project/aept/internal/pathsafety"
)

// ExtractFlags controls how ExtractAll/ExtractSelected write entries to
// disk. The control and data tars use different flag sets.
type ExtractFlags struct {
	PreserveOwner bool
	NoOverwrite   bool
}

// ControlExtractFlags returns the flags for a control archive: no
// ownership/overwrite handling needed, just path safety.
func ControlExtractFlags() ExtractFlags { return ExtractFlags{} }

// DataExtractFlags returns the flags for a data archive: preserve ownership
// (unless ignoreUID is set) and refuse to overwrite an existing file (used
// to detect collisions between packages).
func DataExtractFlags(ignoreUID bool) ExtractFlags {
	return ExtractFlags{PreserveOwner: !ignoreUID, NoOverwrite: true}
}

// DataEntry describes one non-directory entry of a package's data archive,
// as returned by ListDataPaths.
type DataEntry struct {
	Path          string
	Mode          os.FileMode
	SymlinkTarget string // empty unless this entry is a symlink
}

// IPKReader opens the outer AR container of a .ipk file and locates its
// control.tar.* / data.tar.* members.
type IPKReader struct {
	f *os.File
}

// Open opens path as an IPK file.
func Open(path string) (*IPKReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	return &IPKReader{f: f}, nil
}

// Close closes the underlying file.
func (r *IPKReader) Close() error { return r.f.Close() }

// member locates the first AR member whose name begins with prefix (e.g.
// "control.tar" or "data.tar") and returns a tar.Reader piped through the
// matching decompressor.
func (r *IPKReader) member(prefix string) (*tar.Reader, io.Closer, error) {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("archive: seek: %w", err)
	}

	arReader := ar.NewReader(r.f)
	for {
		hdr, err := arReader.Next()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("archive: no member with prefix %q", prefix)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("archive: ar header: %w", err)
		}

		name := strings.TrimPrefix(strings.TrimSpace(hdr.Name), "./")
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		dr, err := Decompress(arReader, name)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(dr), dr, nil
	}
}

// OpenControl locates control.tar.* and returns a tar reader over it.
func (r *IPKReader) OpenControl() (*tar.Reader, io.Closer, error) {
	return r.member("control.tar")
}

// OpenData locates data.tar.* and returns a tar reader over it.
func (r *IPKReader) OpenData() (*tar.Reader, io.Closer, error) {
	return r.member("data.tar")
}

// ListDataPaths returns every non-directory entry of the data archive,
// refusing (with an error) any entry that fails pathsafety.ArchivePathSafe.
func (r *IPKReader) ListDataPaths() ([]DataEntry, error) {
	tr, closer, err := r.OpenData()
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var entries []DataEntry
	for {
		th, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: data tar: %w", err)
		}
		if th.Typeflag == tar.TypeDir {
			continue
		}
		if !pathsafety.ArchivePathSafe(th.Name) {
			return nil, fmt.Errorf("archive: %w: %q", pathsafety.ErrUnsafePath, th.Name)
		}

		de := DataEntry{Path: th.Name, Mode: os.FileMode(th.Mode)}
		if th.Typeflag == tar.TypeSymlink {
			de.SymlinkTarget = th.Linkname
		}
		entries = append(entries, de)
	}
	return entries, nil
}

// ExtractAll extracts every entry of tr into prefix, routing every
// pathname (and hardlink target) through pathsafety.SafeJoin. If conffiles
// is non-nil, an entry whose raw archive pathname is in the set is
// extracted to "<dest><cfSuffix>" instead of overwriting the live path.
// Returns the sum of extracted entry sizes.
//
// An entry whose pathname (or hardlink target) fails SafeJoin is skipped,
// not treated as a hard error: one malicious entry must not block the
// archive's legitimate entries from landing.
func ExtractAll(tr *tar.Reader, prefix string, flags ExtractFlags, conffiles *fileset.Set, cfSuffix string) (extractedBytes int64, err error) {
	for {
		th, err := tr.Next()
		if err == io.EOF {
			return extractedBytes, nil
		}
		if err != nil {
			return extractedBytes, fmt.Errorf("archive: tar: %w", err)
		}

		dest, ok, _ := pathsafety.SafeJoin(prefix, th.Name)
		if !ok {
			continue
		}

		isConffile := conffiles != nil && conffiles.Contains(th.Name)
		entryFlags := flags
		if isConffile && cfSuffix != "" {
			dest = dest + cfSuffix
			entryFlags.NoOverwrite = false
		}

		if th.Typeflag == tar.TypeLink {
			linkDest, ok, _ := pathsafety.SafeJoin(prefix, th.Linkname)
			if !ok {
				continue
			}
			th.Linkname = linkDest
		}

		n, err := extractEntry(tr, th, dest, entryFlags)
		if err != nil {
			return extractedBytes, err
		}
		extractedBytes += n
	}
}

// ExtractSelected extracts only entries whose archive pathname is in
// selected, overwriting existing files (NoOverwrite cleared). Used to
// restore protected conffiles on conflict resolution.
func ExtractSelected(tr *tar.Reader, selected *fileset.Set, prefix string, flags ExtractFlags) error {
	flags.NoOverwrite = false
	for {
		th, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: tar: %w", err)
		}
		if !selected.Contains(th.Name) {
			continue
		}

		dest, ok, _ := pathsafety.SafeJoin(prefix, th.Name)
		if !ok {
			continue
		}

		if _, err := extractEntry(tr, th, dest, flags); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, th *tar.Header, dest string, flags ExtractFlags) (int64, error) {
	switch th.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(dest, os.FileMode(th.Mode)); err != nil {
			return 0, fmt.Errorf("archive: mkdir %s: %w", dest, err)
		}
		if err := applyEntryMeta(dest, th, flags); err != nil {
			return 0, err
		}
		return 0, nil

	case tar.TypeSymlink:
		if !pathsafety.SymlinkTargetSafe(th.Linkname) {
			return 0, fmt.Errorf("archive: refusing unsafe symlink target %q for %s", th.Linkname, dest)
		}
		os.Remove(dest)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return 0, fmt.Errorf("archive: mkdir parent of %s: %w", dest, err)
		}
		if err := os.Symlink(th.Linkname, dest); err != nil {
			return 0, fmt.Errorf("archive: symlink %s: %w", dest, err)
		}
		return 0, nil

	case tar.TypeLink:
		os.Remove(dest)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return 0, fmt.Errorf("archive: mkdir parent of %s: %w", dest, err)
		}
		if err := os.Link(th.Linkname, dest); err != nil {
			return 0, fmt.Errorf("archive: hardlink %s: %w", dest, err)
		}
		return 0, nil

	default:
		if flags.NoOverwrite {
			if _, err := os.Lstat(dest); err == nil {
				return 0, fmt.Errorf("archive: refusing to overwrite existing file %s", dest)
			}
		} else {
			os.Remove(dest)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return 0, fmt.Errorf("archive: mkdir parent of %s: %w", dest, err)
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(th.Mode))
		if err != nil {
			return 0, fmt.Errorf("archive: create %s: %w", dest, err)
		}

		n, err := io.Copy(out, tr)
		if err != nil {
			out.Close()
			return n, fmt.Errorf("archive: write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return n, fmt.Errorf("archive: close %s: %w", dest, err)
		}
		if err := applyEntryMeta(dest, th, flags); err != nil {
			return n, err
		}
		return n, nil
	}
}

// applyEntryMeta restores an extracted entry's ownership (when PreserveOwner
// is set) and modification time. Ownership is skipped silently for an
// unprivileged process, which cannot chown to arbitrary ids; mtime is always
// restored.
func applyEntryMeta(dest string, th *tar.Header, flags ExtractFlags) error {
	if flags.PreserveOwner {
		if err := os.Lchown(dest, th.Uid, th.Gid); err != nil && os.Geteuid() == 0 {
			return fmt.Errorf("archive: chown %s: %w", dest, err)
		}
	}
	if !th.ModTime.IsZero() {
		if err := os.Chtimes(dest, time.Time{}, th.ModTime); err != nil {
			return fmt.Errorf("archive: chtimes %s: %w", dest, err)
		}
	}
	return nil
}
