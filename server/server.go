// Package server exposes the wizard over HTTP: session CRUD glue around
// the session store plus the generate endpoint that runs the batch
// pipeline and serves the resulting archive.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/flanksource/commons/logger"

	"github.com/weddinglabs/cardpress/api"
	"github.com/weddinglabs/cardpress/pipeline"
	"github.com/weddinglabs/cardpress/render"
	"github.com/weddinglabs/cardpress/session"
)

// Server wires the session store and the batch runner behind an HTTP mux.
type Server struct {
	store  *session.Store
	runner *pipeline.Runner
	comp   *render.Compositor

	mu      sync.Mutex
	runs    map[string]*pipeline.Run
	cancels map[string]context.CancelFunc
}

// New creates a server over the given store and runner. Raster previews
// draw from the same font registry the runner uses, so they match output.
func New(store *session.Store, runner *pipeline.Runner, fonts *render.FontRegistry) *Server {
	return &Server{
		store:   store,
		runner:  runner,
		comp:    render.NewCompositor(fonts),
		runs:    map[string]*pipeline.Run{},
		cancels: map[string]context.CancelFunc{},
	}
}

// Handler returns the HTTP handler for all wizard endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", s.handleGenerateOnce)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/sessions/{id}/images", s.handleAddImages)
	mux.HandleFunc("PUT /api/sessions/{id}/names", s.handleSetNames)
	mux.HandleFunc("PUT /api/sessions/{id}/configs/{index}", s.handleSetConfig)
	mux.HandleFunc("POST /api/sessions/{id}/configs/{index}/position", s.handleSetPosition)
	mux.HandleFunc("POST /api/sessions/{id}/order", s.handleReorder)
	mux.HandleFunc("GET /api/sessions/{id}/preview/{index}", s.handlePreview)
	mux.HandleFunc("POST /api/sessions/{id}/generate", s.handleStartRun)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/sessions/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/sessions/{id}/download", s.handleDownload)
	return mux
}

// Shutdown cancels every in-flight run.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.cancels {
		logger.Infof("cancelling run for session %s", id)
		cancel()
	}
}

// imageUpload is one template image in a JSON upload, matching the
// original wizard's payload shape.
type imageUpload struct {
	Filename    string `json:"filename"`
	ImageBase64 string `json:"imageBase64"`
}

func (u imageUpload) decode() (*api.TemplateImage, error) {
	payload := u.ImageBase64
	data := []byte(payload)
	if !strings.HasPrefix(payload, "data:") {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("image %q: invalid base64: %w", u.Filename, err)
		}
		data = raw
	}
	if render.IsSVG(data) {
		rasterized, err := render.RasterizeSVG(data, 0)
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", u.Filename, err)
		}
		data = rasterized
	}
	return api.NewTemplateImage(u.Filename, data)
}

type generateRequest struct {
	Names   []string              `json:"names"`
	Images  []imageUpload         `json:"images"`
	Configs []api.PlacementConfig `json:"configs"`
	Options api.RunOptions        `json:"options"`
}

// handleGenerateOnce is the stateless endpoint: full payload in, ZIP out.
func (s *Server) handleGenerateOnce(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	images := make([]*api.TemplateImage, 0, len(req.Images))
	for _, u := range req.Images {
		img, err := u.decode()
		if err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		images = append(images, img)
	}

	snap, err := api.NewSnapshot(req.Names, images, req.Configs, req.Options)
	if err != nil {
		httpError(w, http.StatusUnprocessableEntity, err)
		return
	}

	result := s.runner.Start(r.Context(), snap).Wait()
	if result.Err != nil {
		httpError(w, http.StatusInternalServerError, result.Err)
		return
	}
	serveArchive(w, result.Archive)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Create()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID})
}

func (s *Server) handleAddImages(w http.ResponseWriter, r *http.Request) {
	var uploads []imageUpload
	if err := json.NewDecoder(r.Body).Decode(&uploads); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	images := make([]*api.TemplateImage, 0, len(uploads))
	for _, u := range uploads {
		img, err := u.decode()
		if err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
		images = append(images, img)
	}
	if err := s.store.AddImages(r.PathValue("id"), images); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"images": len(images)})
}

func (s *Server) handleSetNames(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetNames(r.PathValue("id"), body.Names); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"names": len(body.Names)})
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid image index"))
		return
	}
	var cfg api.PlacementConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	err = s.store.UpdateConfig(r.PathValue("id"), index, func(c *api.PlacementConfig) error {
		cfg.ImageIndex = c.ImageIndex
		*c = cfg
		return nil
	})
	if err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid image index"))
		return
	}
	var body struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetPosition(r.PathValue("id"), index, body.X, body.Y); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Order []int `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Reorder(r.PathValue("id"), body.Order); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview renders one page for the first guest (or ?name=). SVG by
// default, which browsers render with live webfonts like the editor does;
// ?format=png uses the final-output compositor instead.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid image index"))
		return
	}
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if index < 0 || index >= len(sess.Images) {
		httpError(w, http.StatusNotFound, fmt.Errorf("no image %d", index))
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" && len(sess.Names) > 0 {
		name = sess.Names[0]
	}

	var cfg *api.PlacementConfig
	for i := range sess.Configs {
		if sess.Configs[i].ImageIndex == index {
			cfg = &sess.Configs[i]
			break
		}
	}
	if cfg == nil {
		httpError(w, http.StatusNotFound, fmt.Errorf("no placement for image %d", index))
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := s.comp.PreviewPNG(r.Context(), sess.Images[index], *cfg, name)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
		return
	}

	svg, err := render.PreviewSVG(sess.Images[index], *cfg, name)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(svg)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var opts api.RunOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
	}

	snap, err := s.store.Snapshot(id, opts)
	if err != nil {
		storeError(w, err)
		return
	}
	if err := s.store.BeginRun(id); err != nil {
		storeError(w, err)
		return
	}

	// The run outlives the HTTP request; progress is polled separately.
	ctx, cancel := context.WithCancel(context.Background())
	run := s.runner.Start(ctx, snap)

	s.mu.Lock()
	s.runs[id] = run
	s.cancels[id] = cancel
	s.mu.Unlock()

	go func() {
		run.Wait()
		s.store.EndRun(id)
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}()

	writeJSON(w, http.StatusAccepted, pipeline.Update{Phase: run.Phase(), Progress: run.Progress()})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel, ok := s.cancels[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("no active run"))
		return
	}
	cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	run, ok := s.runs[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("no run for session"))
		return
	}

	resp := struct {
		pipeline.Update
		Error string `json:"error,omitempty"`
		Files int    `json:"files,omitempty"`
	}{Update: pipeline.Update{Phase: run.Phase(), Progress: run.Progress()}}

	if resp.Phase.Terminal() {
		result := run.Wait()
		resp.Files = result.Files
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	run, ok := s.runs[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("no run for session"))
		return
	}
	if run.Phase() != pipeline.PhaseComplete {
		httpError(w, http.StatusConflict, fmt.Errorf("run is %s", run.Phase()))
		return
	}
	serveArchive(w, run.Wait().Archive)
}

func serveArchive(w http.ResponseWriter, blob []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="wedding_cards.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.Write(blob)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		httpError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrLocked), errors.Is(err, session.ErrRunActive):
		httpError(w, http.StatusConflict, err)
	case errors.Is(err, api.ErrNoGuests), errors.Is(err, api.ErrNoPages), errors.Is(err, api.ErrNoPlacements):
		httpError(w, http.StatusUnprocessableEntity, err)
	default:
		httpError(w, http.StatusBadRequest, err)
	}
}
