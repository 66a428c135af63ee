package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kacperjurak/cxtfit/internal/processing"
	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/kacperjurak/cxtfit/pkg/handlers"
	"github.com/kacperjurak/cxtfit/pkg/profiling"
	"github.com/kacperjurak/cxtfit/pkg/webhook"
	"github.com/kacperjurak/cxtfit/pkg/worker"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config        *config.Config
	serverConfig  *config.ServerConfig
	log           logrus.FieldLogger
	workerPool    *worker.Pool
	webhookClient *webhook.Client
	batchHandler  *handlers.BatchHandler
	httpServer    *http.Server
	profiler      *profiling.Profiler
	middleware    *profiling.Middleware
}

// Options holds configuration for creating a new server
type Options struct {
	Config *config.Config
	// Processor runs simulations and fits, it is built from Config when nil.
	Processor *processing.FitProcessor
	Log       logrus.FieldLogger
}

// New creates a new server instance
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Processor == nil {
		fitOpts, err := opts.Config.FitOptions()
		if err != nil {
			return nil, err
		}
		opts.Processor = processing.NewFitProcessor(fitOpts, opts.Log)
	}
	sc := &opts.Config.Server

	poolOpts := worker.Options{
		Workers:   sc.WorkerCount,
		QueueSize: sc.QueueSize,
		Processor: opts.Processor.Process,
		Log:       opts.Log.WithField("component", "pool"),
		Profile:   sc.EnableProfiling,
	}
	var webhookClient *webhook.Client
	if sc.WebhookURL != "" {
		webhookClient = webhook.NewClient(sc.WebhookURL, webhook.Options{
			Timeout:  sc.WebhookTimeout,
			MaxRetry: sc.WebhookMaxRetry,
			Log:      opts.Log.WithField("component", "webhook"),
		})
		// a nil *Client in the interface would not compare equal to nil
		poolOpts.Sender = webhookClient
	} else {
		opts.Log.Warn("no webhook URL configured, fit results are only available via GET /fit/{id}")
	}

	server := &Server{
		config:        opts.Config,
		serverConfig:  sc,
		log:           opts.Log,
		workerPool:    worker.New(poolOpts),
		webhookClient: webhookClient,
		profiler:      profiling.New(sc, opts.Log.WithField("component", "profiler")),
		middleware:    profiling.NewMiddleware(sc.EnableProfiling, opts.Log.WithField("component", "http")),
	}

	server.setupRoutes(opts.Processor)
	return server, nil
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes(proc *processing.FitProcessor) {
	mux := http.NewServeMux()

	simulateHandler := handlers.NewSimulateHandler(proc, s.log)
	fitHandler := handlers.NewFitHandler(s.workerPool, s.log)
	s.batchHandler = handlers.NewBatchHandler(s.workerPool, s.serverConfig.TimingFile, s.log)

	mux.Handle("/simulate", s.middleware.ProfiledHandler("simulate", simulateHandler))
	mux.Handle("/fit", s.middleware.ProfiledHandler("fit", fitHandler))
	mux.Handle("/fit/", s.middleware.ProfiledHandler("fit-status", fitHandler))
	mux.Handle("/fit/batch", s.middleware.ProfiledHandler("fit-batch", s.batchHandler))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/debug/gc", s.gcHandler)
	mux.HandleFunc("/debug/memory", s.memoryHandler)

	// simulations run synchronously, so the write timeout is generous
	s.httpServer = &http.Server{
		Addr:              ":" + s.serverConfig.Port,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// Handler returns the routed handler of the server.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"workers":   s.workerPool.Workers(),
		"webhook":   s.webhookClient != nil,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// gcHandler triggers garbage collection and returns stats
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, profiling.ForceGC(s.log))
}

// memoryHandler provides current memory statistics
func (s *Server) memoryHandler(w http.ResponseWriter, r *http.Request) {
	profiling.LogGCStats(s.log)
	s.writeJSON(w, profiling.ReadRuntimeInfo())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("writing response")
	}
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	if err := s.profiler.Start(); err != nil {
		s.log.WithError(err).Error("failed to start profiler")
	}

	s.log.WithFields(logrus.Fields{
		"port":    s.serverConfig.Port,
		"workers": s.workerPool.Workers(),
	}).Info("starting HTTP server")
	for _, route := range []string{"/simulate", "/fit", "/fit/{id}", "/fit/batch", "/health", "/debug/gc", "/debug/memory"} {
		s.log.Debugf("endpoint http://localhost:%s%s", s.serverConfig.Port, route)
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for running requests until ctx
// expires, then aborts the remaining fits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		err = fmt.Errorf("http server shutdown: %w", err)
	}
	if perr := s.profiler.Stop(); perr != nil {
		s.log.WithError(perr).Warn("profiler shutdown")
	}
	s.workerPool.Shutdown()
	s.batchHandler.Wait()

	s.log.Info("server shutdown complete")
	return err
}
