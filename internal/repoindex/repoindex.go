// Package repoindex fetches and loads repository package indices: the
// Packages/Packages.gz stream plus its optional usign signature.
package repoindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/download"
	"github.com/aept-project/aept/internal/procrun"
	"github.com/aept-project/aept/internal/solver"
)

// ErrSigVerifyFailed means a Packages index failed usign verification: the
// downloaded Packages and .sig are unlinked, and the caller should treat
// the whole operation as aborted.
var ErrSigVerifyFailed = errors.New("repoindex: signature verification failed")

// Update fetches every configured source's Packages index into
// cfg.ListsDir/<name>, decompressing a Packages.gz fetch down to the plain
// stream stored at lists/<source>, and verifying its usign signature when
// cfg.CheckSignature is set.
func Update(ctx context.Context, cfg *config.Config, client *http.Client, log download.Logf) error {
	if err := os.MkdirAll(cfg.ListsDir, 0755); err != nil {
		return fmt.Errorf("repoindex: mkdir %s: %w", cfg.ListsDir, err)
	}
	for _, src := range cfg.Sources {
		if !strings.HasPrefix(src.URL, "https://") {
			logf(log, "warning: source %q (%s) is not HTTPS", src.Name, src.URL)
		}
		if err := updateOne(ctx, cfg, client, src, log); err != nil {
			return fmt.Errorf("repoindex: update %s: %w", src.Name, err)
		}
	}
	return nil
}

func logf(l download.Logf, format string, args ...any) {
	if l != nil {
		l(format, args...)
	}
}

func updateOne(ctx context.Context, cfg *config.Config, client *http.Client, src config.Source, log download.Logf) error {
	indexName := "Packages"
	if src.Gzip {
		indexName = "Packages.gz"
	}
	remote := strings.TrimRight(src.URL, "/") + "/" + indexName
	dest := filepath.Join(cfg.ListsDir, src.Name)
	fetchDest := dest
	if src.Gzip {
		fetchDest = dest + ".download"
	}

	if err := download.Download(ctx, client, remote, fetchDest, src.Name+" "+indexName, log); err != nil {
		return err
	}

	if src.Gzip {
		if err := decompressFile(fetchDest, dest); err != nil {
			os.Remove(fetchDest)
			return err
		}
		os.Remove(fetchDest)
	}

	if !cfg.CheckSignature {
		return nil
	}

	sigDest := dest + ".sig"
	sigURL := strings.TrimRight(src.URL, "/") + "/Packages.sig"
	if err := download.Download(ctx, client, sigURL, sigDest, src.Name+" Packages.sig", log); err != nil {
		os.Remove(dest)
		return err
	}
	if err := verifySignature(ctx, cfg, dest, sigDest); err != nil {
		os.Remove(dest)
		os.Remove(sigDest)
		return err
	}
	return nil
}

func decompressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("repoindex: open %s: %w", src, err)
	}
	defer in.Close()

	rc, err := archive.Decompress(in, "packages.gz")
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("repoindex: create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("repoindex: decompress %s: %w", src, err)
	}
	return nil
}

// verifySignature invokes the external usign binary against cfg's keyring:
// usign -q -V -P <keydir> -m <file> -x <sigfile>.
func verifySignature(ctx context.Context, cfg *config.Config, file, sigfile string) error {
	res, err := procrun.System(ctx, []string{"usign", "-q", "-V", "-P", cfg.UsignKeydir, "-m", file, "-x", sigfile})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigVerifyFailed, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: usign exited %d", ErrSigVerifyFailed, res.ExitCode)
	}
	return nil
}

// LoadAll reads every already-updated source's decompressed Packages file
// into pool, recording each source's position so Solvables it yields carry
// their SourceIndex back for DownloadURL. A source with no local index yet
// (Update never ran) is skipped rather than treated as an error.
func LoadAll(pool *solver.Pool, cfg *config.Config) error {
	for i, src := range cfg.Sources {
		path := filepath.Join(cfg.ListsDir, src.Name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("repoindex: read %s: %w", path, err)
		}
		pool.LoadRepo(src.Name, string(content), i)
	}
	return nil
}

// DownloadURL reconstructs a solved package's download URL from its
// control record's Filename field and the owning source's configured URL.
func DownloadURL(cfg *config.Config, sv *solver.Solvable) (string, error) {
	if sv.Local {
		return "", fmt.Errorf("repoindex: %s is a local package, not downloadable", sv.Name)
	}
	if sv.SourceIndex < 0 || sv.SourceIndex >= len(cfg.Sources) {
		return "", fmt.Errorf("repoindex: %s: no backing source", sv.Name)
	}
	filename := sv.Record.Get("Filename")
	if filename == "" {
		return "", fmt.Errorf("repoindex: %s: Packages record missing Filename", sv.Name)
	}
	src := cfg.Sources[sv.SourceIndex]
	filename = strings.TrimLeft(strings.TrimPrefix(filename, "./"), "/")
	return strings.TrimRight(src.URL, "/") + "/" + filename, nil
}

// CacheFilename returns the basename aept caches a downloaded package
// under cache_dir.
func CacheFilename(sv *solver.Solvable) string {
	return fmt.Sprintf("%s_%s_%s.ipk", sv.Name, sv.Version, sv.Architecture)
}
