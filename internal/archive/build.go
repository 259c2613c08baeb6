package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/blakesmith/ar"
)

// TarEntry describes one file to place in a synthetic control or data tar,
// used by BuildIPK to construct test fixtures without a real dpkg-deb/ipkg
// toolchain available.
type TarEntry struct {
	Name     string
	Mode     int64
	Body     []byte
	Linkname string
	Typeflag byte // defaults to tar.TypeReg if zero
}

func writeTarGz(entries []TarEntry) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		typeflag := e.Typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     e.Mode,
			Size:     int64(len(e.Body)),
			Typeflag: typeflag,
			Linkname: e.Linkname,
			ModTime:  time.Unix(0, 0),
		}
		if typeflag == tar.TypeSymlink || typeflag == tar.TypeDir {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive: tar header %s: %w", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write(e.Body); err != nil {
				return nil, fmt.Errorf("archive: tar write %s: %w", e.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addARMember(w *ar.Writer, name string, body []byte) error {
	hdr := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0644,
		ModTime: time.Unix(0, 0),
	}
	if err := w.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: ar header %s: %w", name, err)
	}
	_, err := w.Write(body)
	return err
}

// BuildIPK assembles a minimal, valid .ipk file (AR container wrapping
// gzip-compressed control.tar and data.tar members) from the given control
// and data entries, for use as a test fixture.
func BuildIPK(w io.Writer, controlEntries, dataEntries []TarEntry) error {
	controlTarGz, err := writeTarGz(controlEntries)
	if err != nil {
		return fmt.Errorf("archive: build control.tar.gz: %w", err)
	}
	dataTarGz, err := writeTarGz(dataEntries)
	if err != nil {
		return fmt.Errorf("archive: build data.tar.gz: %w", err)
	}

	arw := ar.NewWriter(w)
	if err := arw.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("archive: ar global header: %w", err)
	}
	if err := addARMember(arw, "debian-binary", []byte("2.0\n")); err != nil {
		return err
	}
	if err := addARMember(arw, "control.tar.gz", controlTarGz); err != nil {
		return err
	}
	if err := addARMember(arw, "data.tar.gz", dataTarGz); err != nil {
		return err
	}
	return nil
}
