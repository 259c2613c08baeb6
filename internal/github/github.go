// Package github harvests .ipk/.deb release assets from a GitHub
// repository into a local mirror directory usable as an aept `src` config
// line.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/checksum"
	"github.com/aept-project/aept/internal/deb"
	"github.com/aept-project/aept/internal/download"
)

// Asset is one downloadable file attached to a GitHub release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// FetchReleaseAssets lists every .ipk/.deb package asset, and every .asc
// signature asset, attached to owner/repo's releases via the public GitHub
// API. An empty token performs an
// unauthenticated request (subject to GitHub's lower rate limit for
// anonymous callers).
func FetchReleaseAssets(ctx context.Context, client *http.Client, owner, repo, token string) ([]Asset, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github: %s/%s: %w", owner, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github: %s/%s: API status %d", owner, repo, resp.StatusCode)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("github: %s/%s: decode: %w", owner, repo, err)
	}

	var assets []Asset
	for _, rel := range releases {
		for _, a := range rel.Assets {
			if strings.HasSuffix(a.Name, ".ipk") || strings.HasSuffix(a.Name, ".deb") || strings.HasSuffix(a.Name, ".asc") {
				assets = append(assets, a)
			}
		}
	}
	return assets, nil
}

// HarvestResult reports what Harvest did for one asset.
type HarvestResult struct {
	Name    string
	Path    string
	Fetched bool // false if the file already existed in destDir
	SkipErr error
}

// Harvest downloads every .ipk/.deb release asset of owner/repo into
// destDir (creating it if needed), skipping assets already present by
// name, and returns a result per asset. A single asset's download failure
// does not abort the rest of the harvest — it is recorded in SkipErr.
//
// If keyringPath is non-empty, it names an armored OpenPGP public keyring:
// for each asset that has a sibling "<name>.asc" release asset, the sibling
// is fetched and checked as a detached armored signature over the asset
// before it is accepted. A signature that fails verification deletes the
// asset and is reported via SkipErr.
func Harvest(ctx context.Context, client *http.Client, owner, repo, token, destDir, keyringPath string, log download.Logf) ([]HarvestResult, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("github: mkdir %s: %w", destDir, err)
	}

	assets, err := FetchReleaseAssets(ctx, client, owner, repo, token)
	if err != nil {
		return nil, err
	}
	sigByAsset := make(map[string]Asset)
	for _, a := range assets {
		if strings.HasSuffix(a.Name, ".asc") {
			sigByAsset[strings.TrimSuffix(a.Name, ".asc")] = a
		}
	}

	results := make([]HarvestResult, 0, len(assets))
	for _, a := range assets {
		if strings.HasSuffix(a.Name, ".asc") {
			continue
		}
		dest := filepath.Join(destDir, a.Name)
		if _, err := os.Stat(dest); err == nil {
			results = append(results, HarvestResult{Name: a.Name, Path: dest, Fetched: false})
			continue
		}

		// browser_download_url is reachable unauthenticated for public
		// repos, which covers the common aept use case; private-repo
		// harvesting would need the asset API endpoint instead.
		if err := download.Download(ctx, client, a.BrowserDownloadURL, dest, fmt.Sprintf("%s/%s %s", owner, repo, a.Name), log); err != nil {
			results = append(results, HarvestResult{Name: a.Name, Path: dest, SkipErr: err})
			continue
		}

		if keyringPath != "" {
			if sig, ok := sigByAsset[a.Name]; ok {
				if err := verifyHarvestedAsset(ctx, client, dest, sig.BrowserDownloadURL, keyringPath); err != nil {
					os.Remove(dest)
					results = append(results, HarvestResult{Name: a.Name, Path: dest, SkipErr: err})
					continue
				}
			}
		}
		results = append(results, HarvestResult{Name: a.Name, Path: dest, Fetched: true})
	}
	return results, nil
}

func verifyHarvestedAsset(ctx context.Context, client *http.Client, path, sigURL, keyringPath string) error {
	sigPath := path + ".asc"
	if err := download.Download(ctx, client, sigURL, sigPath, filepath.Base(sigURL), nil); err != nil {
		return fmt.Errorf("github: fetch signature: %w", err)
	}
	defer os.Remove(sigPath)
	return VerifyDetachedSignature(keyringPath, path, sigPath)
}

// VerifyDetachedSignature checks that sigPath is a valid armored OpenPGP
// detached signature over filePath by some entity in the armored keyring
// at keyringPath.
func VerifyDetachedSignature(keyringPath, filePath, sigPath string) error {
	keyringData, err := os.Open(keyringPath)
	if err != nil {
		return fmt.Errorf("github: open keyring %s: %w", keyringPath, err)
	}
	defer keyringData.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringData)
	if err != nil {
		return fmt.Errorf("github: parse keyring %s: %w", keyringPath, err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("github: open %s: %w", filePath, err)
	}
	defer f.Close()

	sig, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("github: open signature %s: %w", sigPath, err)
	}
	defer sig.Close()

	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, f, sig, nil); err != nil {
		return fmt.Errorf("github: signature verification failed for %s: %w", filePath, err)
	}
	return nil
}

// BuildPackagesIndex regenerates dir/Packages from every .ipk file present
// in dir, so the directory can be used as a `src` (with a `file://` or
// locally-served URL) whose Packages stream aept's repoindex/solver
// packages load like any other repository. Each package's control record
// is read from its control.tar, augmented with a Filename field (the
// asset's basename, resolved relative to the source's configured URL at
// fetch time) and a SHA256 checksum.
func BuildPackagesIndex(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("github: read %s: %w", dir, err)
	}

	var out strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ipk") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rec, err := controlRecordOf(path)
		if err != nil {
			return fmt.Errorf("github: %s: %w", e.Name(), err)
		}

		sum, err := checksum.Hex(path, checksum.SHA256)
		if err != nil {
			return fmt.Errorf("github: %s: checksum: %w", e.Name(), err)
		}
		rec.Set("Filename", e.Name())
		rec.Set("SHA256", sum)

		out.WriteString(rec.String())
		out.WriteString("\n")
	}

	return os.WriteFile(filepath.Join(dir, "Packages"), []byte(out.String()), 0644)
}

func controlRecordOf(path string) (*deb.Record, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	tr, closer, err := r.OpenControl()
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	for {
		th, err := tr.Next()
		if err != nil {
			return nil, fmt.Errorf("control.tar: no control file found: %w", err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(th.Name, "./"), "/")
		if name != "control" {
			continue
		}
		buf := make([]byte, th.Size)
		if _, err := io.ReadFull(tr, buf); err != nil {
			return nil, fmt.Errorf("control.tar: read control: %w", err)
		}
		return deb.ParseRecord(string(buf)), nil
	}
}
