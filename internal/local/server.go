// Package local runs a lambda handler behind the Runtime Interface Emulator
// contract so the compose setup can invoke either service on :8080 without
// the managed runtime.
package local

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// InvokeFunc adapts a lambda handler to the local server: raw event in,
// JSON-encodable response out.
type InvokeFunc func(ctx context.Context, payload []byte) (any, error)

type Server struct {
	Router *chi.Mux
	Log    *zap.SugaredLogger
	invoke InvokeFunc
}

func NewServer(log *zap.SugaredLogger, invoke InvokeFunc) *Server {
	s := &Server{Router: chi.NewRouter(), Log: log, invoke: invoke}
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(middleware.Timeout(300 * time.Second))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Post("/2015-03-31/functions/function/invocations", s.handleInvoke)
	s.Router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.Router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	resp, err := s.invoke(r.Context(), payload)
	if err != nil {
		s.Log.Warnw("invocation failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorMessage": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
