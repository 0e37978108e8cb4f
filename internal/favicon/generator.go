package favicon

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/assets"
	"github.com/wolfeidau/sitepipe/internal/config"
)

const maxEntrySize = 16 << 20

// Generator renders the favicon set through a Service and installs it into the
// build output.
type Generator struct {
	cfg config.Config
	svc Service
}

func NewGenerator(cfg config.Config, svc Service) *Generator {
	return &Generator{cfg: cfg, svc: svc}
}

func (g *Generator) Name() string { return assets.TaskFavicon }

// Run generates the icons, writes them under the favicon destination and
// saves the manifest. Nothing is written unless every file was fetched.
func (g *Generator) Run(ctx context.Context) (*assets.Result, error) {
	fc := g.cfg.Favicon
	if fc.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	picture, err := os.ReadFile(g.cfg.Path(fc.MasterPicture))
	if err != nil {
		return nil, fmt.Errorf("failed to read master picture: %w", err)
	}

	req := &Request{
		APIKey: fc.APIKey,
		MasterPicture: MasterPicture{
			Type:    "inline",
			Content: base64.StdEncoding.EncodeToString(picture),
		},
		FilesLocation: FilesLocation{Type: "path", Path: fc.IconsPath},
		Design:        fc.Design,
		Settings:      fc.Settings,
	}

	log.Info().Str("picture", fc.MasterPicture).Msg("Generating favicons")

	m, err := g.svc.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	dest := g.cfg.Path(fc.Dest)
	files, err := g.fetch(ctx, m, dest)
	if err != nil {
		return nil, err
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}

	res := &assets.Result{Task: g.Name()}
	for _, f := range files {
		if err := assets.WriteFile(f.path, f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		res.Outputs = append(res.Outputs, f.path)
	}

	// the manifest lives next to the sources, outside the served output
	if err := assets.WriteFile(g.cfg.Path(fc.ManifestFile), manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	log.Info().Int("files", len(res.Outputs)).Str("version", m.Version).Msg("Favicons generated")

	return res, nil
}

type file struct {
	path string
	data []byte
}

func (g *Generator) fetch(ctx context.Context, m *Manifest, dest string) ([]file, error) {
	if m.Favicon.PackageURL != "" {
		data, err := g.svc.Download(ctx, m.Favicon.PackageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download favicon package: %w", err)
		}
		return extract(data, dest)
	}

	if len(m.Favicon.FilesURLs) == 0 {
		return nil, errors.New("favicon result has neither a package nor file urls")
	}

	files := make([]file, 0, len(m.Favicon.FilesURLs))
	for _, u := range m.Favicon.FilesURLs {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid favicon file url %q: %w", u, err)
		}
		name := path.Base(parsed.Path)
		if name == "/" || name == "." {
			return nil, fmt.Errorf("favicon file url %q has no file name", u)
		}

		data, err := g.svc.Download(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", name, err)
		}
		files = append(files, file{path: filepath.Join(dest, name), data: data})
	}
	return files, nil
}

// extract reads every regular file in the zip archive, rejecting entries that
// would land outside dest.
func extract(data []byte, dest string) ([]file, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid favicon package: %w", err)
	}

	var files []file
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(zf.Name))
		if !within(dest, target) {
			return nil, fmt.Errorf("favicon package entry %q escapes %s", zf.Name, dest)
		}

		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", zf.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", zf.Name, err)
		}
		if len(content) > maxEntrySize {
			return nil, fmt.Errorf("favicon package entry %s is too large", zf.Name)
		}

		files = append(files, file{path: target, data: content})
	}

	if len(files) == 0 {
		return nil, errors.New("favicon package is empty")
	}
	return files, nil
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
