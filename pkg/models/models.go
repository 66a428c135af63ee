package models

import (
	"fmt"
	"time"

	"github.com/kacperjurak/cxtfit"
)

// Curve is a sampled concentration curve, times in h.
type Curve struct {
	T []float64 `json:"t"`
	C []float64 `json:"c"`
}

// Spline builds the interpolating spline of the curve.
func (c *Curve) Spline() (*cxtfit.LinearSpline, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: missing curve", cxtfit.ErrInvalidInput)
	}
	return cxtfit.NewLinearSpline(c.T, c.C)
}

// SimulateRequest is the body of a synchronous simulation.
type SimulateRequest struct {
	Input     cxtfit.SolverInput `json:"input"`
	Inlet     *Curve             `json:"inlet,omitempty"`    // replaces the constant inlet concentration
	Measured  *Curve             `json:"measured,omitempty"` // outlet curve for R²
	Profiles  bool               `json:"profiles"`
	Partition bool               `json:"partition"` // needs Inlet and Measured
}

// SimulateResponse is the reply of a simulation.
type SimulateResponse struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	OutletT   []float64        `json:"outlet_t"`
	OutletC   []float64        `json:"outlet_c"`
	Profiles  []cxtfit.Profile `json:"profiles,omitempty"`
	R2        float64          `json:"r2"`
	Partition *float64         `json:"partition,omitempty"`
	Stats     cxtfit.BDFStats  `json:"stats"`
	RuntimeMs float64          `json:"runtime_ms"`
}

// FitRequest describes one parameter fit.
type FitRequest struct {
	ID            string             `json:"id,omitempty"`
	Input         cxtfit.SolverInput `json:"input"`
	Fit           []string           `json:"fit"`
	Method        string             `json:"method,omitempty"` // lm, nelder-mead or all
	MaxIterations int                `json:"max_iterations,omitempty"`
	HorizonHours  float64            `json:"horizon_h,omitempty"`
	Measured      Curve              `json:"measured"`
	Inlet         *Curve             `json:"inlet,omitempty"`
}

// FitBatch is a set of independent fits.
type FitBatch struct {
	BatchID   string       `json:"batch_id"`
	Timestamp time.Time    `json:"timestamp"`
	Fits      []FitRequest `json:"fits"`
}

// WorkItem represents a single fit task
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Request   FitRequest
	StartTime time.Time
	// Reply receives the result instead of the webhook queue when set.
	Reply chan<- WorkResult
}

// WorkResult contains the result of a fit
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Result         *cxtfit.OptimizerResult
	Err            error
	ProcessingTime time.Duration
	Success        bool
}

// WebhookItem represents a webhook task
type WebhookItem struct {
	RequestID string
	BatchID   string
	Result    WorkResult
}

// WebhookResponse represents the webhook payload structure
type WebhookResponse struct {
	ID           string             `json:"id"`
	BatchID      string             `json:"batch_id,omitempty"`
	Time         string             `json:"time"`
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
	Parameters   map[string]float64 `json:"parameters"`
	R2           float64            `json:"r2"`
	ResidualNorm float64            `json:"residual_norm"`
	Trials       int                `json:"trials"`
	Iterations   int                `json:"iterations"`
	Status       string             `json:"status"`
	OutletT      []float64          `json:"outlet_t"`
	OutletC      []float64          `json:"outlet_c"`
	ProcessingMs float64            `json:"processing_ms"`
}

// JobState is the lifecycle state of a submitted fit.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is the reply of a status query.
type JobStatus struct {
	ID        string           `json:"id"`
	BatchID   string           `json:"batch_id,omitempty"`
	State     JobState         `json:"state"`
	Submitted time.Time        `json:"submitted"`
	Report    *WebhookResponse `json:"report,omitempty"`
}

// FitTiming tracks performance metrics of one fit in a batch
type FitTiming struct {
	Index          int           `json:"index"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	R2             float64       `json:"r2"`
	Trials         int           `json:"trials"`
	Success        bool          `json:"success"`
}

// BatchSummary aggregates the timings of a finished batch.
type BatchSummary struct {
	BatchID     string  `json:"batch_id"`
	Fits        int     `json:"fits"`
	Succeeded   int     `json:"succeeded"`
	Workers     int     `json:"workers"`
	TotalMs     float64 `json:"total_ms"`
	MeanFitMs   float64 `json:"mean_fit_ms"`
	MinFitMs    float64 `json:"min_fit_ms"`
	MaxFitMs    float64 `json:"max_fit_ms"`
	MeanR2      float64 `json:"mean_r2"`
	FitsPerSec  float64 `json:"fits_per_second"`
	Efficiency  float64 `json:"efficiency"`
	SuccessRate float64 `json:"success_rate"`
}
