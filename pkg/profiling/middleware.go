package profiling

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Middleware logs every request. With profiling enabled the entries are
// logged at info level with the heap growth of the request, and replies
// carry an X-Profiled-Handler header.
type Middleware struct {
	profile bool
	log     logrus.FieldLogger
}

// NewMiddleware returns a request logger. A nil log uses the standard logger.
func NewMiddleware(profile bool, log logrus.FieldLogger) *Middleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Middleware{profile: profile, log: log}
}

// ProfiledHandler wraps next under the route name.
func (m *Middleware) ProfiledHandler(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var heap uint64
		if m.profile {
			heap = heapAlloc()
			w.Header().Set("X-Profiled-Handler", name)
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		entry := m.log.WithFields(logrus.Fields{
			"handler":     name,
			"method":      r.Method,
			"status":      sw.status,
			"duration_ms": milliseconds(time.Since(start)),
		})
		if !m.profile {
			entry.Debug("request handled")
			return
		}
		entry.WithFields(logrus.Fields{
			"heap_delta": int64(heapAlloc()) - int64(heap),
			"goroutines": runtime.NumGoroutine(),
		}).Info("request profiled")
	})
}

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
