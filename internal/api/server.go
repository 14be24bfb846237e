// Package api serves the recall datastore over HTTP. It is the backend
// the update job and the web frontend talk to.
//
// Three resources share one shape: GET lists with keyset pagination via
// the lastEvaluatedKey query parameter, PATCH upserts an array of
// entities, DELETE removes by an array of primary keys.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"recalls/internal/logging"
	"recalls/internal/recall"
	"recalls/internal/remote"
	"recalls/internal/store"
)

// DefaultPageSize caps list responses when the caller sets no limit.
const DefaultPageSize = 500

// Server exposes a store.Store over HTTP.
type Server struct {
	store    store.Store
	pageSize int
}

// NewServer wraps st. pageSize caps list responses; values <= 0 fall
// back to DefaultPageSize.
func NewServer(st store.Store, pageSize int) *Server {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Server{store: st, pageSize: pageSize}
}

// listResponse is the paginated list envelope. A non-empty
// LastEvaluatedKey invites the client to request the next page.
type listResponse[T any] struct {
	Items            []T    `json:"items"`
	LastEvaluatedKey string `json:"lastEvaluatedKey,omitempty"`
}

// Routes builds the router with the shared middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.health)

	r.Route("/recalls", func(r chi.Router) {
		r.Get("/", s.getRecalls)
		r.Patch("/", s.patchRecalls)
		r.Delete("/", s.deleteRecalls)
	})
	r.Route("/makes", func(r chi.Router) {
		r.Get("/", s.getMakes)
		r.Patch("/", s.patchMakes)
		r.Delete("/", s.deleteMakes)
	})
	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.getModels)
		r.Patch("/", s.patchModels)
		r.Delete("/", s.deleteModels)
	})
	return r
}

// requestLogger attaches a request id (the caller's, or a fresh UUID)
// to the context and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(remote.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set(remote.HeaderRequestID, id)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("caller", r.Header.Get(remote.HeaderCaller)).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getRecalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RecallFilter{Make: q.Get("make"), Model: q.Get("model")}
	items, next, err := s.store.ListRecalls(r.Context(), f, s.pageSize, q.Get("lastEvaluatedKey"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if items == nil {
		items = []recall.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse[recall.Record]{Items: items, LastEvaluatedKey: next})
}

func (s *Server) patchRecalls(w http.ResponseWriter, r *http.Request) {
	var recs []recall.Record
	if !decodeBody(w, r, &recs) {
		return
	}
	if err := s.store.UpsertRecalls(r.Context(), recs); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(recs)})
}

func (s *Server) deleteRecalls(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if !decodeBody(w, r, &keys) {
		return
	}
	if err := s.store.DeleteRecalls(r.Context(), keys); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(keys)})
}

func (s *Server) getMakes(w http.ResponseWriter, r *http.Request) {
	items, next, err := s.store.ListMakes(r.Context(), s.pageSize, r.URL.Query().Get("lastEvaluatedKey"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if items == nil {
		items = []recall.MakeRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[recall.MakeRecord]{Items: items, LastEvaluatedKey: next})
}

func (s *Server) patchMakes(w http.ResponseWriter, r *http.Request) {
	var recs []recall.MakeRecord
	if !decodeBody(w, r, &recs) {
		return
	}
	if err := s.store.UpsertMakes(r.Context(), recs); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(recs)})
}

func (s *Server) deleteMakes(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if !decodeBody(w, r, &keys) {
		return
	}
	if err := s.store.DeleteMakes(r.Context(), keys); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(keys)})
}

func (s *Server) getModels(w http.ResponseWriter, r *http.Request) {
	items, next, err := s.store.ListModels(r.Context(), s.pageSize, r.URL.Query().Get("lastEvaluatedKey"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if items == nil {
		items = []recall.ModelRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[recall.ModelRecord]{Items: items, LastEvaluatedKey: next})
}

func (s *Server) patchModels(w http.ResponseWriter, r *http.Request) {
	var recs []recall.ModelRecord
	if !decodeBody(w, r, &recs) {
		return
	}
	if err := s.store.UpsertModels(r.Context(), recs); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(recs)})
}

func (s *Server) deleteModels(w http.ResponseWriter, r *http.Request) {
	var keys []string
	if !decodeBody(w, r, &keys) {
		return
	}
	if err := s.store.DeleteModels(r.Context(), keys); err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(keys)})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("store operation failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// decodeBody reads a JSON body into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding response failed")
	}
}
