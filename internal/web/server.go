// Package web is a thin HTTP front end mapping JSON routes 1:1 onto the
// service operations.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"codegraph/internal/model"
	"codegraph/internal/service"
	"codegraph/internal/store"
)

// Server serves the graph query API.
type Server struct {
	svc  *service.Service
	addr string
	log  *zap.Logger
}

// NewServer creates a server bound to addr.
func NewServer(svc *service.Service, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, addr: addr, log: log}
}

type analyzeRequest struct {
	RepositoryPath string           `json:"repository_path"`
	EdgeKinds      []model.EdgeKind `json:"edge_kinds,omitempty"`
}

type impactRequest struct {
	ChangedFiles []string `json:"changed_files"`
	Depth        int      `json:"depth"`
}

type contextRequest struct {
	EntryPoints []string `json:"entry_points"`
	Depth       int      `json:"depth"`
	MaxNodes    int      `json:"max_nodes"`
	IncludeCode bool     `json:"include_code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /api/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /api/graphs/{id}", s.handleDeleteGraph)
	mux.HandleFunc("GET /api/graphs/{id}/nodes", s.handleFindNodes)
	mux.HandleFunc("GET /api/graphs/{id}/node", s.handleGetNode)
	mux.HandleFunc("GET /api/graphs/{id}/dependencies", s.handleDependencies)
	mux.HandleFunc("GET /api/graphs/{id}/dependents", s.handleDependents)
	mux.HandleFunc("POST /api/graphs/{id}/impact", s.handleImpact)
	mux.HandleFunc("POST /api/graphs/{id}/context", s.handleContext)
	return mux
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &model.InvalidRequestError{Field: "body", Reason: err.Error()})
		return
	}
	result, err := s.svc.Analyze(r.Context(), req.RepositoryPath, req.EdgeKinds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	metas, err := s.svc.ListGraphs(r.Context(), r.URL.Query().Get("repository_path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if metas == nil {
		metas = []model.GraphMeta{}
	}
	s.writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteGraph(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFindNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.FindFilter{
		Kind:        model.NodeKind(q.Get("kind")),
		NamePattern: q.Get("name"),
		PathPrefix:  q.Get("path"),
	}
	nodes, err := s.svc.FindNodes(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetNode(r.Context(), r.PathValue("id"), r.URL.Query().Get("node_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.svc.GetDependencies)
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	s.handleTraversal(w, r, s.svc.GetDependents)
}

func (s *Server) handleTraversal(w http.ResponseWriter, r *http.Request,
	traverse func(context.Context, string, string, int) ([]model.Node, error)) {
	q := r.URL.Query()
	depth, err := parseDepth(q.Get("depth"), 3)
	if err != nil {
		s.writeError(w, err)
		return
	}
	nodes, err := traverse(r.Context(), r.PathValue("id"), q.Get("node_id"), depth)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	var req impactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &model.InvalidRequestError{Field: "body", Reason: err.Error()})
		return
	}
	report, err := s.svc.Impact(r.Context(), r.PathValue("id"), req.ChangedFiles, req.Depth)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &model.InvalidRequestError{Field: "body", Reason: err.Error()})
		return
	}
	result, err := s.svc.Context(r.Context(), r.PathValue("id"), req.EntryPoints, req.Depth, req.MaxNodes, req.IncludeCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func parseDepth(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &model.InvalidRequestError{Field: "depth", Reason: "must be an integer"}
	}
	return depth, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
