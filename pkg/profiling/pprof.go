package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/sirupsen/logrus"
)

// sampleInterval is how often the profiler logs memory statistics.
const sampleInterval = 30 * time.Second

// Profiler manages the pprof profiling server
type Profiler struct {
	config *config.ServerConfig
	log    logrus.FieldLogger
	server *http.Server
	sampler *Sampler
}

// New creates a new profiler instance
func New(cfg *config.ServerConfig, log logrus.FieldLogger) *Profiler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Profiler{
		config: cfg,
		log:    log,
	}
}

// Handler returns the routes of the profiling server.
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/info", p.infoHandler)
	return mux
}

// Start starts the profiling server on a separate port
func (p *Profiler) Start() error {
	if !p.config.EnableProfiling {
		p.log.Debug("profiling disabled")
		return nil
	}

	// block and mutex profiles are empty unless sampling is enabled
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	p.server = &http.Server{
		Addr:              ":" + p.config.ProfilingPort,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.log.WithField("port", p.config.ProfilingPort).
		Infof("profiling server started, index at http://localhost:%s/debug/pprof/", p.config.ProfilingPort)

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.log.WithError(err).Error("profiling server failed")
		}
	}()

	p.sampler = NewSampler(sampleInterval, p.log)
	p.sampler.Start()
	return nil
}

// Stop gracefully stops the profiling server
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}
	p.sampler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown error: %w", err)
	}
	p.server = nil

	p.log.Info("profiling server stopped")
	return nil
}

// RuntimeInfo is the reply of /debug/info.
type RuntimeInfo struct {
	Timestamp  string     `json:"timestamp"`
	Goroutines int        `json:"goroutines"`
	GOMAXPROCS int        `json:"gomaxprocs"`
	NumCPU     int        `json:"num_cpu"`
	Version    string     `json:"version"`
	Memory     MemoryInfo `json:"memory"`
	GC         GCStats    `json:"gc"`
}

// MemoryInfo summarizes runtime.MemStats in MB.
type MemoryInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	HeapSysMB    float64 `json:"heap_sys_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	StackInUseMB float64 `json:"stack_in_use_mb"`
}

// ReadRuntimeInfo samples the current runtime state.
func ReadRuntimeInfo() RuntimeInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeInfo{
		Timestamp:  time.Now().Format(time.RFC3339),
		Goroutines: runtime.NumGoroutine(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		NumCPU:     runtime.NumCPU(),
		Version:    runtime.Version(),
		Memory: MemoryInfo{
			AllocMB:      megabytes(m.Alloc),
			TotalAllocMB: megabytes(m.TotalAlloc),
			SysMB:        megabytes(m.Sys),
			HeapAllocMB:  megabytes(m.HeapAlloc),
			HeapSysMB:    megabytes(m.HeapSys),
			HeapObjects:  m.HeapObjects,
			StackInUseMB: megabytes(m.StackInuse),
		},
		GC: gcStats(&m),
	}
}

// infoHandler provides runtime information
func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ReadRuntimeInfo()); err != nil {
		p.log.WithError(err).Warn("writing runtime info")
	}
}
