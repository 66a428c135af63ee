package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kacperjurak/cxtfit/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiledHandler(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, enabled := range []bool{false, true} {
		hook.Reset()
		rec := httptest.NewRecorder()
		NewMiddleware(enabled, log).ProfiledHandler("tea", inner).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "tea", hook.LastEntry().Data["handler"])
		assert.Equal(t, http.StatusTeapot, hook.LastEntry().Data["status"])
		if enabled {
			assert.Equal(t, "tea", rec.Header().Get("X-Profiled-Handler"))
			assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
			assert.Contains(t, hook.LastEntry().Data, "heap_delta")
		} else {
			assert.Empty(t, rec.Header().Get("X-Profiled-Handler"))
			assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
		}
	}
}

func TestInfoHandler(t *testing.T) {
	p := New(config.DefaultServerConfig(), logrus.New())
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info RuntimeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Positive(t, info.Goroutines)
	assert.Positive(t, info.NumCPU)
	assert.NotEmpty(t, info.Version)
}

func TestStartDisabled(t *testing.T) {
	p := New(config.DefaultServerConfig(), logrus.New())
	require.NoError(t, p.Start())
	assert.NoError(t, p.Stop())
}

func TestForceGC(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	before := GetGCStats()
	after := ForceGC(log)
	assert.Greater(t, after.Cycles, before.Cycles)
	assert.Positive(t, after.LastPauseUs+after.PauseMs)
	assert.Len(t, hook.AllEntries(), 1)

	stats := LogGCStats(log)
	assert.GreaterOrEqual(t, stats.Cycles, after.Cycles)
}

func TestTrackFit(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	done := TrackFit(log, 3, "column-a")
	assert.Empty(t, hook.AllEntries())
	d := done()
	assert.GreaterOrEqual(t, d, time.Duration(0))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, 3, hook.LastEntry().Data["worker"])
	assert.Equal(t, "column-a", hook.LastEntry().Data["request"])
}

func TestSamplerLogsUntilStopped(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := NewSampler(time.Millisecond, log)
	s.Start()
	assert.Eventually(t, func() bool { return len(hook.AllEntries()) > 0 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
}
