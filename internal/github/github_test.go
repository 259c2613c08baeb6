package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// newClient returns an http.Client that redirects every outgoing request to
// server, so the fixed api.github.com URLs resolve against the test server.
func newClient(server *httptest.Server) *http.Client {
	u := server.URL
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req2 := req.Clone(req.Context())
		req2.URL.Scheme = "http"
		req2.URL.Host = u[len("http://"):]
		req2.Host = req2.URL.Host
		return http.DefaultTransport.RoundTrip(req2)
	})}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetchReleaseAssets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/releases", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]release{
			{
				TagName: "v1.0",
				Assets: []Asset{
					{Name: "widgets_1.0_mips.ipk", BrowserDownloadURL: "http://ignored/widgets_1.0_mips.ipk"},
					{Name: "README.md", BrowserDownloadURL: "http://ignored/README.md"},
					{Name: "legacy_1.0.deb", BrowserDownloadURL: "http://ignored/legacy_1.0.deb"},
				},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	assets, err := FetchReleaseAssets(context.Background(), newClient(server), "acme", "widgets", "")
	if err != nil {
		t.Fatalf("FetchReleaseAssets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 package assets (ipk+deb, not README), got %d: %+v", len(assets), assets)
	}
}

func TestHarvestSkipsExisting(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/releases", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]release{
			{TagName: "v1.0", Assets: []Asset{
				{Name: "widgets_1.0_mips.ipk", BrowserDownloadURL: "http://ignored/widgets_1.0_mips.ipk"},
			}},
		})
	})
	mux.HandleFunc("/widgets_1.0_mips.ipk", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ipk-bytes"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	client := newClient(server)

	dir := t.TempDir()
	results, err := Harvest(context.Background(), client, "acme", "widgets", "", dir, "", nil)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if len(results) != 1 || !results[0].Fetched {
		t.Fatalf("expected one fetched asset, got %+v", results)
	}

	// Second harvest: the file already exists, so it's reported unfetched.
	results, err = Harvest(context.Background(), client, "acme", "widgets", "", dir, "", nil)
	if err != nil {
		t.Fatalf("Harvest (second pass): %v", err)
	}
	if len(results) != 1 || results[0].Fetched {
		t.Fatalf("expected the existing asset to be skipped, got %+v", results)
	}

	content, err := os.ReadFile(filepath.Join(dir, "widgets_1.0_mips.ipk"))
	if err != nil || string(content) != "ipk-bytes" {
		t.Fatalf("unexpected harvested content: %q, err=%v", content, err)
	}
}
