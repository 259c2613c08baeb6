// Package download fetches package and index files from HTTP(S)
// repositories. No retry logic lives at this layer; the transaction driver
// decides whether a failed or mismatched download is worth repeating.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Logf is a sink for warnings the downloader emits (e.g. the non-HTTPS
// notice); nil is a valid no-op logger.
type Logf func(format string, args ...any)

func logf(l Logf, format string, args ...any) {
	if l != nil {
		l(format, args...)
	}
}

// Download fetches url into dest, logging displayName. If url does not
// begin with "https://", a warning is emitted but the fetch proceeds
// anyway. Any stale dest is unlinked first; on failure dest is unlinked
// again so no partial file lingers.
func Download(ctx context.Context, client *http.Client, url, dest, displayName string, log Logf) error {
	logf(log, "fetching %s", displayName)

	if !strings.HasPrefix(url, "https://") {
		logf(log, "warning: source %q is not HTTPS", url)
	}

	os.Remove(dest)

	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download: %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("download: create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("download: write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("download: close %s: %w", dest, err)
	}

	return nil
}
