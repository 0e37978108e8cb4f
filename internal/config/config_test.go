package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_defaultsWhenFileMissing(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, root, cfg.Root)
	require.Equal(t, "build", cfg.Output)
	require.Equal(t, []string{"src/scss/main.scss"}, cfg.Styles.Src)
	require.Equal(t, "localhost:7787", cfg.Server.Addr())
	require.Equal(t, "index.html", cfg.Server.Index)
	require.Equal(t, "faviconData.json", cfg.Favicon.ManifestFile)
	require.Equal(t, "#5bd586", cfg.Favicon.Design.SafariPinnedTab.ThemeColor)
}

func TestLoad_explicitFileMustExist(t *testing.T) {
	_, err := Load(t.TempDir(), "missing.yaml")
	require.Error(t, err)
}

func TestLoad_overlaysFile(t *testing.T) {
	root := t.TempDir()
	data := []byte(`
output: public
markup:
  src: ["pages/*.html"]
  dest: public
styles:
  src: ["styles/site.css"]
  dest: public/css
scripts:
  src: ["js/main.js"]
  dest: public/js
fonts:
  src: ["fonts/*"]
  dest: public/fonts
favicon:
  dest: public/favicons
server:
  port: 9000
  tunnel: false
watch:
  debounce: 250ms
`)
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultFile), data, 0600))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, "public", cfg.Output)
	require.Equal(t, []string{"pages/*.html"}, cfg.Markup.Src)
	require.Equal(t, []string{"styles/site.css"}, cfg.Styles.WatchPatterns())
	require.Equal(t, 9000, cfg.Server.Port)
	require.False(t, cfg.Server.Tunnel)
	require.True(t, cfg.Server.LiveReload)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.Equal(t, filepath.Join(root, "public", "css"), cfg.Path(cfg.Styles.Dest))
}

func TestLoad_kindOverlay(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantSrc   []string
		wantWatch []string
		wantDest  string
	}{
		{
			name:      "dest only keeps default sources and watch",
			yaml:      "styles:\n  dest: build/styles\n",
			wantSrc:   []string{"src/scss/main.scss"},
			wantWatch: []string{"src/scss/**/*.scss"},
			wantDest:  "build/styles",
		},
		{
			name:      "src without watch watches the new sources",
			yaml:      "styles:\n  src: [\"styles/site.scss\"]\n",
			wantSrc:   []string{"styles/site.scss"},
			wantWatch: []string{"styles/site.scss"},
			wantDest:  "build/css",
		},
		{
			name:      "src with watch",
			yaml:      "styles:\n  src: [\"styles/site.scss\"]\n  watch: [\"styles/**/*.scss\"]\n",
			wantSrc:   []string{"styles/site.scss"},
			wantWatch: []string{"styles/**/*.scss"},
			wantDest:  "build/css",
		},
		{
			name:      "watch only",
			yaml:      "styles:\n  watch: [\"src/**/*.scss\"]\n",
			wantSrc:   []string{"src/scss/main.scss"},
			wantWatch: []string{"src/**/*.scss"},
			wantDest:  "build/css",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(root, DefaultFile), []byte(tt.yaml), 0600))

			cfg, err := Load(root, "")
			require.NoError(t, err)
			require.Equal(t, tt.wantSrc, cfg.Styles.Src)
			require.Equal(t, tt.wantWatch, cfg.Styles.WatchPatterns())
			require.Equal(t, tt.wantDest, cfg.Styles.Dest)
			require.Equal(t, []string{"src/js/**/*.js"}, cfg.Scripts.WatchPatterns())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "destination outside output",
			mutate:  func(c *Config) { c.Scripts.Dest = "dist/js" },
			wantErr: true,
		},
		{
			name:    "overlapping destinations",
			mutate:  func(c *Config) { c.Fonts.Dest = "build/css/fonts" },
			wantErr: true,
		},
		{
			name:    "styles writing to the output root",
			mutate:  func(c *Config) { c.Styles.Dest = "build" },
			wantErr: true,
		},
		{
			name:    "missing sources",
			mutate:  func(c *Config) { c.Markup.Src = nil },
			wantErr: true,
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Root = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
