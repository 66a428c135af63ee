package profiling

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TrackFit starts measuring one fit run by a pool worker. The returned
// function logs the elapsed time and heap growth and reports the time.
func TrackFit(log logrus.FieldLogger, workerID int, requestID string) func() time.Duration {
	start, heap := time.Now(), heapAlloc()
	return func() time.Duration {
		elapsed := time.Since(start)
		log.WithFields(logrus.Fields{
			"worker":      workerID,
			"request":     requestID,
			"duration_ms": milliseconds(elapsed),
			"heap_delta":  int64(heapAlloc()) - int64(heap),
		}).Debug("fit profiled")
		return elapsed
	}
}

// Sampler logs GC statistics at a fixed interval until stopped.
type Sampler struct {
	every time.Duration
	log   logrus.FieldLogger
	done  chan struct{}
	once  sync.Once
}

// NewSampler returns a stopped sampler.
func NewSampler(every time.Duration, log logrus.FieldLogger) *Sampler {
	return &Sampler{every: every, log: log, done: make(chan struct{})}
}

// Start launches the sampling goroutine.
func (s *Sampler) Start() {
	go func() {
		tick := time.NewTicker(s.every)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				LogGCStats(s.log)
			case <-s.done:
				return
			}
		}
	}()
}

// Stop ends sampling. Repeated calls are no-ops.
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.done) })
}

// GCStats is the collector section of /debug/gc and /debug/info.
type GCStats struct {
	Cycles      uint32  `json:"cycles"`
	PauseMs     float64 `json:"pause_total_ms"`
	LastPauseUs float64 `json:"last_pause_us"`
	CPUPercent  float64 `json:"cpu_percent"`
	HeapMB      float64 `json:"heap_mb"`
	SysMB       float64 `json:"sys_mb"`
}

// GetGCStats samples the collector.
func GetGCStats() GCStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return gcStats(&m)
}

func gcStats(m *runtime.MemStats) GCStats {
	s := GCStats{
		Cycles:     m.NumGC,
		PauseMs:    float64(m.PauseTotalNs) / 1e6,
		CPUPercent: 100 * m.GCCPUFraction,
		HeapMB:     megabytes(m.HeapAlloc),
		SysMB:      megabytes(m.Sys),
	}
	if m.NumGC > 0 {
		// PauseNs is a ring of the last 256 pauses
		s.LastPauseUs = float64(m.PauseNs[(m.NumGC+255)%256]) / 1e3
	}
	return s
}

// LogGCStats logs and returns the current collector statistics.
func LogGCStats(log logrus.FieldLogger) GCStats {
	s := GetGCStats()
	log.WithFields(logrus.Fields{
		"gc_cycles":  s.Cycles,
		"pause_ms":   s.PauseMs,
		"heap_mb":    s.HeapMB,
		"goroutines": runtime.NumGoroutine(),
	}).Info("memory stats")
	return s
}

// ForceGC runs a collection and returns the statistics after it.
func ForceGC(log logrus.FieldLogger) GCStats {
	cycles := GetGCStats().Cycles
	runtime.GC()
	s := GetGCStats()
	log.WithFields(logrus.Fields{"gc_cycles": s.Cycles, "forced": s.Cycles - cycles}).Debug("forced gc")
	return s
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func megabytes(b uint64) float64 { return float64(b) / (1 << 20) }

func milliseconds(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
