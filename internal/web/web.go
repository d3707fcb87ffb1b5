package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"midiboy/internal/config"
	"midiboy/internal/input"
	appLog "midiboy/internal/log"
	"midiboy/internal/sim"
)

// Display is the read-only view of the panel driver the server reports.
type Display interface {
	Scroll() uint8
	Contrast() byte
	Enabled() bool
}

// Deps are the live components the server inspects. Panel and Buttons are
// only set in simulation mode.
type Deps struct {
	Display Display
	Input   *input.Manager
	Panel   *sim.Panel
	Buttons *input.VirtualSource
}

// Server provides the debug HTTP API: health, a preview of the simulated
// panel, a state snapshot and virtual button presses.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// embeddedStatic holds the single-page debug UI.
//
//go:embed all:static
var embeddedStatic embed.FS

const (
	defaultPreviewScale = 4
	maxPreviewScale     = 8
	shutdownTimeout     = 5 * time.Second
)

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="midiboy", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on listen until ctx is canceled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func StartServer(ctx context.Context, listen string, s *Server) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/buttons", s.handleButtons)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	// Everything else falls through to the embedded UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files under internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths must 404 rather than return HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handlePreview renders the simulated panel as a PNG.
//
// GET /preview.png?scale=4
//   - scale: integer upscaling factor, 1..8 (default 4)
//
// Without a simulated panel there is nothing to show and the handler
// returns 404.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Panel == nil {
		writeError(w, http.StatusNotFound, "preview is only available in simulation mode")
		return
	}

	scale := parseIntDefault(r.URL.Query().Get("scale"), defaultPreviewScale)
	if scale < 1 {
		scale = 1
	}
	if scale > maxPreviewScale {
		scale = maxPreviewScale
	}

	src := s.deps.Panel.Image()
	sb := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, sb.Dx()*scale, sb.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, dst); err != nil {
		appLog.Error("failed to encode preview", err)
	}
}

// stateResponse is the JSON response shape for /api/state.
type stateResponse struct {
	Simulate bool     `json:"simulate"`
	Scroll   uint8    `json:"scroll"`
	Contrast uint8    `json:"contrast"`
	Enabled  bool     `json:"enabled"`
	Pressed  []string `json:"pressed"`
	Queued   int      `json:"queued"`
	Dropped  uint64   `json:"dropped"`
	RepeatMs int64    `json:"repeat_ms"`
}

func (s *Server) snapshot() stateResponse {
	resp := stateResponse{
		Simulate: s.deps.Panel != nil,
		Pressed:  []string{},
	}
	if d := s.deps.Display; d != nil {
		resp.Scroll = d.Scroll()
		resp.Contrast = d.Contrast()
		resp.Enabled = d.Enabled()
	}
	if m := s.deps.Input; m != nil {
		for _, b := range input.Buttons {
			if m.Pressed(b) {
				resp.Pressed = append(resp.Pressed, b.String())
			}
		}
		resp.Queued = m.Len()
		resp.Dropped = m.Dropped()
		resp.RepeatMs = m.RepeatInterval().Milliseconds()
	}
	return resp
}

// handleState returns a snapshot of the display and input state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

// buttonRequest is the JSON body of POST /api/buttons.
type buttonRequest struct {
	Button  string `json:"button"`
	Pressed bool   `json:"pressed"`
}

// handleButtons drives the virtual button lines.
//
// POST /api/buttons {"button":"a","pressed":true}
//
// The level change is picked up by the next input tick and goes through
// the same debounce and repeat logic as hardware buttons.
func (s *Server) handleButtons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Buttons == nil {
		writeError(w, http.StatusNotFound, "virtual buttons are only available in simulation mode")
		return
	}

	var req buttonRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := input.ParseButton(strings.ToLower(strings.TrimSpace(req.Button)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.deps.Buttons.Set(b, req.Pressed)
	appLog.Debug("virtual button", "button", b, "pressed", req.Pressed)
	writeJSON(w, http.StatusOK, s.snapshot())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
