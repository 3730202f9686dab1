// Package server exposes ingestion and question answering over HTTP and
// WebSocket, and supervises the background pipeline tasks spawned by
// uploads.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/quarry-ai/quarry/pipeline"
	"github.com/quarry-ai/quarry/progress"
	"github.com/quarry-ai/quarry/qa"
	"github.com/quarry-ai/quarry/ratelimit"
	"github.com/quarry-ai/quarry/vectorstore"
)

// shutdownGrace bounds how long draining waits for in-flight uploads.
const shutdownGrace = 30 * time.Second

// apiVersion is reported by GET /health.
const apiVersion = "1.0.0"

// StoreAdmin is the administrative surface of the vector store used by
// the HTTP API; *vectorstore.Store satisfies it.
type StoreAdmin interface {
	Stats(ctx context.Context, name string) (vectorstore.CollectionStats, error)
	Collections(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Health(ctx context.Context) vectorstore.Health
}

// Args bundles the process-wide singletons the server serves.
type Args struct {
	Limiter *ratelimit.Limiter
	Store   StoreAdmin
	Tracker *progress.Tracker
	Pipe    *pipeline.Pipeline
	QA      *qa.Service

	// DefaultCollection receives uploads that don't name a collection.
	DefaultCollection string
	// EnableMetadataDefault applies when an upload doesn't say.
	EnableMetadataDefault bool
	// Environment is reported by /health.
	Environment string
}

// Server owns the HTTP listener and the upload task group.
type Server struct {
	args Args
	mux  *http.ServeMux
	http *http.Server

	draining atomic.Bool
	tasks    sync.WaitGroup
	taskCtx  context.Context
	cancel   context.CancelFunc
}

func New(addr string, args Args) *Server {
	var taskCtx, cancel = context.WithCancel(context.Background())
	var s = &Server{
		args:    args,
		mux:     http.NewServeMux(),
		taskCtx: taskCtx,
		cancel:  cancel,
	}
	s.http = &http.Server{Addr: addr, Handler: s.mux}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /initialize", s.handleInitialize)
	s.mux.HandleFunc("POST /question", s.handleQuestion)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /batch-questions", s.handleBatchQuestions)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /rate-limit-stats", s.handleRateLimitStats)
	s.mux.HandleFunc("DELETE /collection/{name}", s.handleDeleteCollection)
	s.mux.HandleFunc("GET /ws/{id}", s.serveProgressWS)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve() error {
	log.WithField("addr", s.http.Addr).Info("quarry server listening")
	var err = s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains: new uploads are refused, the listener shuts down, and
// in-flight pipelines get a bounded grace period before cancellation.
func (s *Server) Stop(ctx context.Context) error {
	s.draining.Store(true)

	var err = s.http.Shutdown(ctx)

	var idle = make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-time.After(shutdownGrace):
		log.Warn("grace period expired; cancelling in-flight uploads")
	case <-ctx.Done():
	}
	s.cancel()
	s.tasks.Wait()

	return err
}

// spawn runs an upload pipeline in the background task group.
func (s *Server) spawn(job pipeline.Job) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		var _, err = s.args.Pipe.Run(s.taskCtx, job)
		countUpload(err)
	}()
}
