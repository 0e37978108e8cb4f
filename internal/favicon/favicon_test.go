package favicon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sitepipe/internal/config"
)

const snippet = `<link rel="apple-touch-icon" sizes="180x180" href="/favicons/apple-touch-icon.png">
<link rel="icon" type="image/png" sizes="32x32" href="/favicons/favicon-32x32.png">
<link rel="manifest" href="/favicons/site.webmanifest">
<meta name="theme-color" content="#ffffff">`

type stubService struct {
	manifest  *Manifest
	files     map[string][]byte
	changes   []Change
	requests  []*Request
	generated atomic.Int32
}

func (s *stubService) Generate(_ context.Context, req *Request) (*Manifest, error) {
	s.generated.Add(1)
	s.requests = append(s.requests, req)
	m := *s.manifest
	return &m, nil
}

func (s *stubService) Download(_ context.Context, url string) ([]byte, error) {
	data, ok := s.files[url]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (s *stubService) CheckUpdate(_ context.Context, version string) ([]Change, error) {
	return s.changes, nil
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src/favicon"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/favicon/virus.svg"), []byte("<svg/>"), 0o600))

	cfg := config.Default()
	cfg.Root = root
	cfg.Favicon.APIKey = "test-key"
	return cfg
}

func TestGenerator_package(t *testing.T) {
	cfg := testConfig(t)
	svc := &stubService{
		manifest: &Manifest{
			Result:  Status{Status: "success"},
			Favicon: Package{PackageURL: "https://example.com/package.zip", HTMLCode: snippet},
			Version: "0.16",
		},
		files: map[string][]byte{
			"https://example.com/package.zip": zipArchive(t, map[string]string{
				"favicon.ico":          "ico",
				"apple-touch-icon.png": "png",
				"site.webmanifest":     "{}",
			}),
		},
	}

	res, err := NewGenerator(cfg, svc).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outputs, 3)

	dest := cfg.Path(cfg.Favicon.Dest)
	data, err := os.ReadFile(filepath.Join(dest, "favicon.ico"))
	require.NoError(t, err)
	require.Equal(t, "ico", string(data))

	require.Len(t, svc.requests, 1)
	req := svc.requests[0]
	require.Equal(t, "test-key", req.APIKey)
	require.Equal(t, "inline", req.MasterPicture.Type)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("<svg/>")), req.MasterPicture.Content)
	require.Equal(t, "/favicons/", req.FilesLocation.Path)
	require.Equal(t, "#00a300", req.Design.Windows.BackgroundColor)

	m, err := LoadManifest(cfg.Path(cfg.Favicon.ManifestFile))
	require.NoError(t, err)
	require.Equal(t, "0.16", m.Version)
	require.Equal(t, snippet, m.Favicon.HTMLCode)
}

func TestGenerator_fileURLs(t *testing.T) {
	cfg := testConfig(t)
	svc := &stubService{
		manifest: &Manifest{
			Result: Status{Status: "success"},
			Favicon: Package{
				FilesURLs: []string{"https://example.com/files/favicon.ico", "https://example.com/files/mstile-150x150.png?v=2"},
				HTMLCode:  snippet,
			},
			Version: "0.16",
		},
		files: map[string][]byte{
			"https://example.com/files/favicon.ico":            []byte("ico"),
			"https://example.com/files/mstile-150x150.png?v=2": []byte("tile"),
		},
	}

	res, err := NewGenerator(cfg, svc).Run(context.Background())
	require.NoError(t, err)

	dest := cfg.Path(cfg.Favicon.Dest)
	require.Equal(t, []string{filepath.Join(dest, "favicon.ico"), filepath.Join(dest, "mstile-150x150.png")}, res.Outputs)
}

func TestGenerator_errors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Favicon.APIKey = ""
		svc := &stubService{}

		_, err := NewGenerator(cfg, svc).Run(context.Background())
		require.ErrorIs(t, err, ErrMissingAPIKey)
		require.Equal(t, int32(0), svc.generated.Load())
	})

	t.Run("archive escapes destination", func(t *testing.T) {
		cfg := testConfig(t)
		svc := &stubService{
			manifest: &Manifest{
				Result:  Status{Status: "success"},
				Favicon: Package{PackageURL: "pkg"},
			},
			files: map[string][]byte{
				"pkg": zipArchive(t, map[string]string{"../../evil.txt": "x"}),
			},
		}

		_, err := NewGenerator(cfg, svc).Run(context.Background())
		require.Error(t, err)
		require.NoFileExists(t, filepath.Join(cfg.Root, "evil.txt"))
		require.NoFileExists(t, cfg.Path(cfg.Favicon.ManifestFile))
	})

	t.Run("failed download writes nothing", func(t *testing.T) {
		cfg := testConfig(t)
		svc := &stubService{
			manifest: &Manifest{
				Result:  Status{Status: "success"},
				Favicon: Package{FilesURLs: []string{"https://example.com/a.png", "https://example.com/missing.png"}},
			},
			files: map[string][]byte{"https://example.com/a.png": []byte("a")},
		}

		_, err := NewGenerator(cfg, svc).Run(context.Background())
		require.Error(t, err)
		require.NoFileExists(t, filepath.Join(cfg.Path(cfg.Favicon.Dest), "a.png"))
	})
}

func writeManifest(t *testing.T, m Manifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "faviconData.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestInject(t *testing.T) {
	manifest := writeManifest(t, Manifest{Favicon: Package{HTMLCode: snippet}, Version: "0.16"})

	page := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(page, []byte(`<!DOCTYPE html>
<html>
  <head>
    <title>Home</title>
    <link rel="icon" href="/old.ico">
    <link rel="stylesheet" href="/css/main.css">
    <meta name="msapplication-TileColor" content="#000000">
  </head>
  <body><p>hello</p></body>
</html>
`), 0o600))

	require.NoError(t, Inject(manifest, page))

	first, err := os.ReadFile(page)
	require.NoError(t, err)
	out := string(first)

	require.NotContains(t, out, "/old.ico")
	require.NotContains(t, out, "msapplication-TileColor")
	require.Contains(t, out, `<link rel="stylesheet" href="/css/main.css"/>`)
	require.Contains(t, out, `<link rel="apple-touch-icon" sizes="180x180" href="/favicons/apple-touch-icon.png"/>`)
	require.Contains(t, out, `<meta name="theme-color" content="#ffffff"/>`)
	require.Contains(t, out, "<title>Home</title>")
	require.Contains(t, out, "<p>hello</p>")

	// running again leaves the page unchanged
	require.NoError(t, Inject(manifest, page))
	second, err := os.ReadFile(page)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestInject_missingManifest(t *testing.T) {
	err := Inject(filepath.Join(t.TempDir(), "faviconData.json"), "index.html")
	require.ErrorIs(t, err, ErrNoManifest)
}

func TestCheckForUpdate(t *testing.T) {
	manifest := writeManifest(t, Manifest{Version: "0.16"})

	changes, err := CheckForUpdate(context.Background(), &stubService{}, manifest)
	require.NoError(t, err)
	require.Empty(t, changes)

	svc := &stubService{changes: []Change{{Version: "0.17", Changes: []string{"new touch icon"}}}}
	changes, err = CheckForUpdate(context.Background(), svc, manifest)
	require.ErrorIs(t, err, ErrUpdateAvailable)
	require.Len(t, changes, 1)

	_, err = CheckForUpdate(context.Background(), svc, filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrNoManifest)
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func TestRealFaviconService_generate(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/favicon", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		// first attempt fails transiently
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var body struct {
			FaviconGeneration Request `json:"favicon_generation"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "key", body.FaviconGeneration.APIKey)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"favicon_generation_result": Manifest{
				Result:  Status{Status: "success"},
				Favicon: Package{PackageURL: "https://example.com/p.zip", HTMLCode: snippet},
				Version: "0.16",
			},
		})
	}))
	defer ts.Close()

	svc := NewRealFaviconService(ts.URL, "", "sitepipe/test", WithBackOff(fastBackOff))

	m, err := svc.Generate(context.Background(), &Request{APIKey: "key", Design: config.DefaultDesign()})
	require.NoError(t, err)
	require.Equal(t, "0.16", m.Version)
	require.Equal(t, int32(2), calls.Load())

	_, err = svc.Generate(context.Background(), &Request{})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestRealFaviconService_errors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/favicon":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"favicon_generation_result": Manifest{Result: Status{Status: "error", ErrorMessage: "bad picture"}},
			})
		case "/bad":
			http.Error(w, "nope", http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer ts.Close()

	svc := NewRealFaviconService(ts.URL, "", "", WithBackOff(fastBackOff), WithMaxTries(3))

	_, err := svc.Generate(context.Background(), &Request{APIKey: "key"})
	require.ErrorContains(t, err, "bad picture")

	calls.Store(0)
	_, err = svc.Download(context.Background(), ts.URL+"/bad")
	require.ErrorContains(t, err, "400")
	require.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	_, err = svc.Download(context.Background(), ts.URL+"/flaky")
	require.Error(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestRealFaviconService_checkUpdate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/versions", r.URL.Path)
		require.Equal(t, "0.16", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`[{"version":"0.17","relevance":{"automated_update":true,"manual_update_required":false},"change":["Safari pinned tab"]}]`))
	}))
	defer ts.Close()

	changes, err := NewRealFaviconService(ts.URL, "", "").CheckUpdate(context.Background(), "0.16")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, []string{"Safari pinned tab"}, changes[0].Changes)
	require.True(t, changes[0].Relevance.AutomatedUpdate)
}
