package webhook

import (
	"math"
	"time"

	"github.com/kacperjurak/cxtfit/pkg/models"
)

// NewReport builds the webhook payload of a finished fit. Non-finite
// numbers are replaced because JSON cannot carry them.
func NewReport(item models.WebhookItem) *models.WebhookResponse {
	r := item.Result
	out := &models.WebhookResponse{
		ID:           item.RequestID,
		BatchID:      item.BatchID,
		Time:         time.Now().Format(time.RFC3339Nano),
		Success:      r.Success,
		Parameters:   map[string]float64{},
		R2:           -1,
		ProcessingMs: float64(r.ProcessingTime.Nanoseconds()) / 1e6,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	res := r.Result
	if res == nil {
		return out
	}
	for _, id := range res.Parameters.Enabled() {
		out.Parameters[id.String()] = sanitizeFloat(res.Parameters[id].Value)
	}
	out.R2 = sanitizeFloat(res.R2)
	out.ResidualNorm = sanitizeFloat(res.ResidualNorm)
	out.Trials = res.Trials
	out.Iterations = res.Iterations
	out.Status = res.Status
	if sim := res.Simulation; sim != nil {
		out.OutletT = sanitizeSlice(sim.OutletT)
		out.OutletC = sanitizeSlice(sim.OutletC)
	}
	return out
}

// sanitizeFloat cleans float64 values for JSON compatibility
func sanitizeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}
	return value
}

func sanitizeSlice(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = sanitizeFloat(x)
	}
	return out
}
