// Package web exposes the public recall lookup page: a form over a
// recall type, make, model and optional year, rendering the matching
// recall records. All data comes from the backend API; this layer holds
// no state of its own.
//
// Routes:
//
//	GET /         → form plus results when a make is selected
//	GET /healthz  → liveness probe
package web

import (
	"context"
	_ "embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"recalls/internal/logging"
	"recalls/internal/recall"
)

// Backend is the API surface the page needs. *remote.Client satisfies
// it; tests substitute a fake.
type Backend interface {
	GetMakes(ctx context.Context) (map[string]recall.MakeRecord, error)
	GetModels(ctx context.Context) (map[string]recall.ModelRecord, error)
	RecallsByMake(ctx context.Context, mk, model string) ([]recall.Record, error)
}

// Config controls server startup.
type Config struct {
	Addr string
}

//go:embed index.tmpl.html
var indexHTML string

// Server wraps the lookup page handler.
type Server struct {
	cfg     Config
	backend Backend
	mux     *http.ServeMux
	tmpl    *template.Template
}

// NewServer constructs a Server with routes and the embedded template
// parsed.
func NewServer(cfg Config, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		mux:     http.NewServeMux(),
		tmpl:    template.Must(template.New("index").Parse(indexHTML)),
	}
	s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.cfg.Addr, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// page is the template payload.
type page struct {
	Types    []string
	Type     string
	Makes    []string
	Make     string
	Models   []string
	Model    string
	Year     string
	Searched bool
	Results  []recall.Record
	Error    string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	p := page{
		Types: []string{recall.CategoryVehicle, recall.CategoryEquipment},
		Type:  q.Get("type"),
		Make:  strings.TrimSpace(q.Get("make")),
		Model: strings.TrimSpace(q.Get("model")),
		Year:  strings.TrimSpace(q.Get("year")),
	}
	if p.Type != recall.CategoryVehicle && p.Type != recall.CategoryEquipment {
		p.Type = recall.CategoryVehicle
	}

	makes, err := s.backend.GetMakes(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("fetching makes failed")
		s.render(w, page{Types: p.Types, Type: p.Type, Error: "recall data is temporarily unavailable"})
		return
	}
	p.Makes = makes[p.Type].Makes

	if p.Make != "" {
		models, err := s.backend.GetModels(ctx)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("fetching models failed")
			p.Error = "recall data is temporarily unavailable"
			s.render(w, p)
			return
		}
		p.Models = models[p.Type+"-"+p.Make].Models
	}

	if p.Make != "" && q.Has("search") {
		recs, err := s.backend.RecallsByMake(ctx, p.Make, p.Model)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("fetching recalls failed")
			p.Error = "recall data is temporarily unavailable"
			s.render(w, p)
			return
		}
		p.Searched = true
		p.Results = filterResults(recs, p.Type, p.Year)
	}

	s.render(w, p)
}

func (s *Server) render(w http.ResponseWriter, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, p); err != nil {
		logging.Error().Err(err).Msg("rendering page failed")
	}
}

// filterResults keeps records of the requested category and, when a
// year is given, records whose launch date or any build range touches
// that year.
func filterResults(recs []recall.Record, category, year string) []recall.Record {
	out := make([]recall.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.Category != category {
			continue
		}
		if year != "" && !matchesYear(rec, year) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matchesYear(rec recall.Record, year string) bool {
	y, err := strconv.Atoi(year)
	if err != nil {
		return true
	}
	if yearOf(rec.LaunchDate) == y {
		return true
	}
	for _, br := range rec.BuildRanges {
		start, end := yearOf(br.Start), yearOf(br.End)
		if start == 0 && end == 0 {
			continue
		}
		if start == 0 {
			start = end
		}
		if end == 0 {
			end = start
		}
		if start <= y && y <= end {
			return true
		}
	}
	return false
}

// yearOf extracts the year of an ISO date string, or 0.
func yearOf(iso string) int {
	if len(iso) < 4 {
		return 0
	}
	y, err := strconv.Atoi(iso[:4])
	if err != nil {
		return 0
	}
	return y
}
