package devserver

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/config"
	"github.com/wolfeidau/sitepipe/internal/logger"
)

const (
	WebsocketPath = "/__sitepipe/ws"
	ScriptPath    = "/__sitepipe/reload.js"
)

//go:embed static/reload.js
var reloadScript []byte

var scriptTag = []byte(`<script src="` + ScriptPath + `" async></script>`)

// Server serves the build output and the live reload endpoints.
type Server struct {
	cfg     config.Server
	root    http.Dir
	hub     *Hub
	handler http.Handler
}

// New creates a server for baseDir. hub may be nil when live reload is off.
func New(baseDir string, cfg config.Server, hub *Hub) *Server {
	s := &Server{
		cfg:  cfg,
		root: http.Dir(baseDir),
		hub:  hub,
	}

	var static http.Handler = gzhttp.GzipHandler(http.HandlerFunc(s.serveStatic))
	if cfg.CORS {
		static = cors.AllowAll().Handler(static)
	}

	mux := http.NewServeMux()
	mux.Handle("/", static)
	if s.liveReload() {
		// the websocket endpoint needs the raw writer to hijack the connection
		mux.Handle(WebsocketPath, hub)
		mux.HandleFunc(ScriptPath, serveScript)
	}

	s.handler = logger.AccessLog(log.Logger)(mux)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on ln, or on the configured address when ln is nil, and blocks
// until ctx is done. In-flight requests get a grace period to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.Tunnel {
		log.Warn().Msg("Public tunnels are not supported, serving locally only")
	}

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr())
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
		}
	}

	srv := configureHTTPServer(s.handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info().Str("url", "http://"+ln.Addr().String()).Bool("live_reload", s.liveReload()).Msg("Serving")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.hub != nil {
		s.hub.Close()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	log.Info().Msg("Server stopped")

	return nil
}

func (s *Server) liveReload() bool {
	return s.cfg.LiveReload && s.hub != nil
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	f, info, err := s.open(path.Clean(name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	if info.IsDir() {
		if !strings.HasSuffix(name, "/") {
			target := name + "/"
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}

		_ = f.Close()
		f, info, err = s.open(path.Join(path.Clean(name), s.cfg.Index))
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache")

	if s.liveReload() && isHTML(info.Name()) {
		data, err := io.ReadAll(f)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(injectScript(data)))
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) open(name string) (http.File, fs.FileInfo, error) {
	f, err := s.root.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

func serveScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(reloadScript)
}

func isHTML(name string) bool {
	return strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
}

// injectScript inserts the reload script before the last closing body tag, or
// appends it when the document has none.
func injectScript(doc []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(doc), []byte("</body>"))
	if idx < 0 {
		return append(doc, scriptTag...)
	}

	out := make([]byte, 0, len(doc)+len(scriptTag))
	out = append(out, doc[:idx]...)
	out = append(out, scriptTag...)
	return append(out, doc[idx:]...)
}

func configureHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
