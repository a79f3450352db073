// Package server is the web control surface: strategy dashboards, article
// previews and a streaming resume endpoint.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/diagnose"
	"github.com/TobiSchelling/ContentForge/internal/progress"
	"github.com/TobiSchelling/ContentForge/internal/resume"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Runner is what the server needs from the pipeline.
type Runner interface {
	Diagnose(ctx context.Context, strategyID int64) (*diagnose.Diagnosis, error)
	Resume(ctx context.Context, strategyID int64, policy resume.Policy, em progress.Emitter) (*progress.Summary, error)
}

// Server is the HTTP server.
type Server struct {
	db       *database.DB
	runner   Runner
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server. gatherer backs /metrics and may be nil.
func New(db *database.DB, runner Runner, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"classCount": func(d *diagnose.Diagnosis, c string) int {
			return d.Classes[diagnose.Class(c)]
		},
		"join": strings.Join,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "strategy.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, runner: runner, gatherer: gatherer, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /strategies/{id}", s.handleStrategy)
	s.mux.HandleFunc("GET /articles/{id}", s.handleArticle)
	s.mux.HandleFunc("POST /articles/{id}/publish", s.handlePublish)
	s.mux.HandleFunc("GET /api/strategies/{id}/diagnosis", s.handleDiagnosis)
	s.mux.HandleFunc("POST /api/strategies/{id}/resume", s.handleResume)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

type strategyRow struct {
	Strategy  database.Strategy
	Diagnosis *diagnose.Diagnosis
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.db.ListStrategies()
	if err != nil {
		s.internalError(w, err)
		return
	}

	rows := make([]strategyRow, 0, len(strategies))
	for _, st := range strategies {
		d, err := s.runner.Diagnose(r.Context(), st.ID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		rows = append(rows, strategyRow{Strategy: st, Diagnosis: d})
	}

	s.render(w, "index.html", map[string]any{
		"Strategies": rows,
	})
}

func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	strategy, err := s.db.GetStrategy(id)
	if errors.Is(err, database.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	d, err := s.runner.Diagnose(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	runs, _ := s.db.GetRunsForStrategy(id, 10)

	s.render(w, "strategy.html", map[string]any{
		"Strategy":  strategy,
		"Diagnosis": d,
		"Runs":      runs,
		"Policy":    resume.DefaultPolicy(),
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	article, err := s.db.GetArticle(id)
	if errors.Is(err, database.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	s.render(w, "article.html", map[string]any{
		"Article":     article,
		"Publishable": article.Stage == database.StageGenerated,
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	_, err := s.db.MarkPublished(id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, database.ErrStaleState):
		http.Error(w, "only generated articles can be published", http.StatusConflict)
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/articles/%d", id), http.StatusSeeOther)
}

func (s *Server) handleDiagnosis(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := s.runner.Diagnose(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("diagnosis failed", zap.Int64("strategy_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleResume runs a resume and streams its events as Server-Sent Events.
// The run stops after the current article when the client goes away.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	policy, err := parsePolicy(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := progress.NewStream(r.Context())
	go func() {
		if _, err := s.runner.Resume(stream.Context(), id, policy, stream); err != nil {
			s.logger.Warn("resume failed", zap.Int64("strategy_id", id), zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case e, open := <-stream.Events():
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				stream.Detach()
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			stream.Detach()
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data)
	return err
}

// parsePolicy reads the resume policy from a JSON body or form values.
// Switches that are not given keep their default.
func parsePolicy(r *http.Request) (resume.Policy, error) {
	policy := resume.DefaultPolicy()
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			return policy, fmt.Errorf("invalid policy: %w", err)
		}
		return policy, nil
	}

	if err := r.ParseForm(); err != nil {
		return policy, fmt.Errorf("invalid form: %w", err)
	}
	fields := map[string]*bool{
		"regenerate_corrupted": &policy.RegenerateCorrupted,
		"reset_stuck":          &policy.ResetStuck,
		"generate_planned":     &policy.GeneratePlanned,
		"skip_generated":       &policy.SkipGenerated,
		"fix_low_quality":      &policy.FixLowQuality,
	}
	for name, dst := range fields {
		v := r.Form.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return policy, fmt.Errorf("invalid value for %s: %q", name, v)
		}
		*dst = b
	}
	return policy, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("template", name), zap.Error(err))
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and stops it when ctx ends.
func Serve(ctx context.Context, srv *Server, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("url", "http://"+addr))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return httpSrv.Shutdown(context.Background())
	}
}
