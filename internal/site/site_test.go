package site

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sitepipe/internal/config"
	"github.com/wolfeidau/sitepipe/internal/favicon"
)

type stubFavicons struct {
	pkg []byte
}

func (s *stubFavicons) Generate(_ context.Context, req *favicon.Request) (*favicon.Manifest, error) {
	return &favicon.Manifest{
		Result: favicon.Status{Status: "success"},
		Favicon: favicon.Package{
			PackageURL: "https://example.com/package.zip",
			HTMLCode:   `<link rel="icon" type="image/png" sizes="32x32" href="/favicons/favicon-32x32.png">`,
		},
		FilesLocation: req.FilesLocation,
		Version:       "0.16",
	}, nil
}

func (s *stubFavicons) Download(context.Context, string) ([]byte, error) {
	return s.pkg, nil
}

func (s *stubFavicons) CheckUpdate(context.Context, string) ([]favicon.Change, error) {
	return nil, nil
}

func newStubFavicons(t *testing.T) *stubFavicons {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("favicon-32x32.png")
	require.NoError(t, err)
	_, err = w.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return &stubFavicons{pkg: buf.Bytes()}
}

var fixture = map[string]string{
	"src/index.html": `<!DOCTYPE html>
<html>
  <head>
    <title>Home</title>
    <link rel="stylesheet" href="/css/main.css">
  </head>
  <body>
    <h1>  Home  </h1>
    <script src="/js/app.js"></script>
  </body>
</html>
`,
	"src/about.html":             "<html><head><title>About</title></head><body>\n  <p>about</p>\n</body></html>\n",
	"src/css/main.css":           "@import \"./partials/_base.css\";\n.box { color: #ff0000; }\n",
	"src/css/partials/_base.css": "body { margin: 0; }\n",
	"src/js/app.js":              "//= include lib/legacy.js\nimport { greet } from \"./modules/greet.js\";\nconsole.log(greet(legacyName));\n",
	"src/js/lib/legacy.js":       "var legacyName = \"sitepipe\";\n",
	"src/js/modules/greet.js":    "export function greet(name) { return \"hello \" + name; }\n",
	"webfonts/fa-solid.woff2":    "woff2",
	"webfonts/fa-solid.woff":     "woff",
	"webfonts/fa-solid.ttf":      "ttf",
	"src/favicon/virus.svg":      "<svg/>",
}

func newSite(t *testing.T, opts ...Option) *Site {
	t.Helper()
	root := t.TempDir()
	for name, content := range fixture {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	cfg := config.Default()
	cfg.Root = root
	cfg.Styles = config.Kind{Src: []string{"src/css/main.css"}, Watch: []string{"src/css/**/*.css"}, Dest: "build/css"}
	cfg.Fonts = config.Kind{Src: []string{"webfonts/*.{woff,woff2,ttf}"}, Dest: "build/fonts"}
	cfg.Server.Tunnel = false
	cfg.Watch.Debounce = 50 * time.Millisecond
	cfg.Favicon.APIKey = "test-key"
	require.NoError(t, cfg.Validate())

	s, err := New(cfg, append([]Option{WithFaviconService(newStubFavicons(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return files
}

func TestSite_build(t *testing.T) {
	s := newSite(t)
	cfg := s.Config()
	out := cfg.Path(cfg.Output)

	report, err := s.BuildPipeline(false, false).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	first := snapshot(t, out)
	for _, name := range []string{
		"index.html", "about.html",
		"css/main.css", "css/main.css.map",
		"js/app.js", "js/app.js.map",
		"fonts/fa-solid.woff2", "fonts/fa-solid.woff", "fonts/fa-solid.ttf",
		"favicons/favicon-32x32.png",
	} {
		require.Contains(t, first, name)
	}
	require.Contains(t, first["index.html"], "<h1>Home</h1>")
	require.Contains(t, first["css/main.css"], "margin:0")
	require.Contains(t, first["js/app.js"], "sitepipe")
	require.FileExists(t, cfg.Path(cfg.Favicon.ManifestFile))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>Home</h1>")
	require.Contains(t, rec.Body.String(), "/__sitepipe/reload.js")

	// clean followed by a rebuild reproduces the same tree
	require.NoError(t, s.Clean())
	require.NoDirExists(t, out)

	report, err = s.BuildPipeline(false, false).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Equal(t, first, snapshot(t, out))
}

func TestSite_buildReportsTaskFailures(t *testing.T) {
	s := newSite(t)
	cfg := s.Config()
	require.NoError(t, os.WriteFile(cfg.Path("src/css/main.css"), []byte("@import \"./missing.css\";\n"), 0o600))

	report, err := s.BuildPipeline(true, true).Run(context.Background())
	require.NoError(t, err)
	require.Error(t, report.Err())
	require.Contains(t, report.Failures, "styles:prod")

	// the other tasks still produced their output
	require.FileExists(t, filepath.Join(cfg.Path(cfg.Output), "index.html"))
	require.FileExists(t, filepath.Join(cfg.Path(cfg.Output), "js", "app.js"))
	require.NoDirExists(t, cfg.Path(cfg.Favicon.Dest))
}

func TestSite_injectAndCheckUpdate(t *testing.T) {
	s := newSite(t)
	cfg := s.Config()

	require.NoError(t, s.Run(context.Background(), "favicon"))
	require.NoError(t, s.Inject())

	page, err := os.ReadFile(cfg.Path("src/index.html"))
	require.NoError(t, err)
	require.Contains(t, string(page), `href="/favicons/favicon-32x32.png"`)

	changes, err := s.CheckFaviconUpdate(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestSite_defaultPipeline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newSite(t, WithListener(ln))
	cfg := s.Config()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.DefaultPipeline(false).Run(ctx)
		errCh <- err
	}()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/css/main.css")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), ".box")
	}, 5*time.Second, 20*time.Millisecond)

	// the watcher is running once the server answers
	require.NoError(t, os.WriteFile(cfg.Path("src/css/partials/_base.css"), []byte("body { margin: 0; color: #00a300; }\n"), 0o600))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(cfg.Path(cfg.Styles.Dest), "main.css"))
		return err == nil && strings.Contains(string(data), "#00a300")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}
