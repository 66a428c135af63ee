package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kacperjurak/cxtfit/internal/utils"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/kacperjurak/cxtfit/pkg/worker"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// BatchHandler handles batches of independent fits. Results are collected
// per batch, sent to the webhook one by one and summarized at the end.
type BatchHandler struct {
	workerPool *worker.Pool
	log        logrus.FieldLogger
	timingFile string
	timingMu   sync.Mutex
	wg         sync.WaitGroup

	// OnComplete, if set, receives the summary of every finished batch.
	OnComplete func(models.BatchSummary)
}

// NewBatchHandler creates a new batch handler. Batch summaries are appended
// to timingFile unless it is empty.
func NewBatchHandler(pool *worker.Pool, timingFile string, log logrus.FieldLogger) *BatchHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BatchHandler{
		workerPool: pool,
		log:        log,
		timingFile: timingFile,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, h.log, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.FitBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		writeError(w, h.log, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(batch.Fits) == 0 {
		writeError(w, h.log, "No fits provided in batch", http.StatusBadRequest)
		return
	}
	for i, fit := range batch.Fits {
		if msg := validateFit(fit); msg != "" {
			writeError(w, h.log, fmt.Sprintf("Fit %d: %s", i, msg), http.StatusBadRequest)
			return
		}
	}
	if !utils.ValidID(batch.BatchID) {
		batch.BatchID = utils.GenerateID()
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}

	h.log.WithFields(logrus.Fields{"batch": batch.BatchID, "fits": len(batch.Fits)}).Info("batch processing started")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processBatchAsync(batch)
	}()

	writeJSON(w, h.log, map[string]interface{}{
		"success":  true,
		"batch_id": batch.BatchID,
		"fits":     len(batch.Fits),
		"message":  "Batch processing started with worker pool",
	}, http.StatusAccepted)
}

// Wait blocks until every started batch has been collected.
func (h *BatchHandler) Wait() { h.wg.Wait() }

// processBatchAsync submits every fit and collects the results of this batch.
func (h *BatchHandler) processBatchAsync(batch models.FitBatch) {
	batchStartTime := time.Now()
	timings := make([]models.FitTiming, len(batch.Fits))
	reply := make(chan models.WorkResult, len(batch.Fits))

	submitted := 0
	for i, fit := range batch.Fits {
		if fit.ID == "" {
			fit.ID = utils.TrialID(batch.BatchID, i)
		}
		timings[i] = models.FitTiming{Index: i, R2: -1}
		err := h.workerPool.SubmitJob(models.WorkItem{
			ID:        i,
			RequestID: fit.ID,
			BatchID:   batch.BatchID,
			Request:   fit,
			StartTime: time.Now(),
			Reply:     reply,
		})
		if err != nil {
			h.log.WithError(err).WithField("batch", batch.BatchID).Warn("batch aborted while submitting")
			break
		}
		submitted++
	}

collect:
	for received := 0; received < submitted; received++ {
		select {
		case result := <-reply:
			h.processResult(result, timings)
		case <-h.workerPool.Done():
			// workers finishing during shutdown still fill the buffered reply channel
			for {
				select {
				case result := <-reply:
					h.processResult(result, timings)
				default:
					break collect
				}
			}
		}
	}

	summary := Summarize(batch.BatchID, timings, time.Since(batchStartTime), h.workerPool.Workers())
	h.log.WithFields(logrus.Fields{
		"batch":        summary.BatchID,
		"fits":         summary.Fits,
		"succeeded":    summary.Succeeded,
		"total_ms":     summary.TotalMs,
		"mean_r2":      summary.MeanR2,
		"efficiency":   summary.Efficiency,
		"success_rate": summary.SuccessRate,
	}).Info("batch processing completed")

	if h.timingFile != "" {
		h.timingMu.Lock()
		err := saveTimingResults(h.timingFile, summary)
		h.timingMu.Unlock()
		if err != nil {
			h.log.WithError(err).Warn("saving batch timings")
		}
	}
	if h.OnComplete != nil {
		h.OnComplete(summary)
	}
}

// processResult records the timing of a result and queues its webhook.
func (h *BatchHandler) processResult(result models.WorkResult, timings []models.FitTiming) {
	t := models.FitTiming{
		Index:          result.ID,
		ProcessingTime: result.ProcessingTime,
		R2:             -1,
		Success:        result.Success,
	}
	if result.Result != nil {
		t.R2 = result.Result.R2
		t.Trials = result.Result.Trials
	}
	if result.ID >= 0 && result.ID < len(timings) {
		timings[result.ID] = t
	}

	h.workerPool.QueueWebhook(models.WebhookItem{
		RequestID: result.RequestID,
		BatchID:   result.BatchID,
		Result:    result,
	})

	h.log.WithFields(logrus.Fields{
		"request": result.RequestID,
		"success": result.Success,
		"r2":      t.R2,
	}).Debug("batch fit collected")
}

// Summarize aggregates the fit timings of one batch.
func Summarize(batchID string, timings []models.FitTiming, total time.Duration, workers int) models.BatchSummary {
	s := models.BatchSummary{BatchID: batchID, Fits: len(timings), Workers: workers, TotalMs: ms(total), MeanR2: -1}
	if len(timings) == 0 {
		return s
	}

	fitMs := make([]float64, len(timings))
	var r2s []float64
	s.MinFitMs = ms(timings[0].ProcessingTime)
	for i, t := range timings {
		fitMs[i] = ms(t.ProcessingTime)
		s.MinFitMs = min(s.MinFitMs, fitMs[i])
		s.MaxFitMs = max(s.MaxFitMs, fitMs[i])
		if t.Success {
			s.Succeeded++
			r2s = append(r2s, t.R2)
		}
	}
	s.MeanFitMs = stat.Mean(fitMs, nil)
	if len(r2s) > 0 {
		s.MeanR2 = stat.Mean(r2s, nil)
	}
	s.SuccessRate = float64(s.Succeeded) / float64(s.Fits) * 100
	if total > 0 {
		s.FitsPerSec = float64(s.Fits) / total.Seconds()
		// 1 means a linear speedup over the workers
		if workers > 0 {
			s.Efficiency = s.MeanFitMs * float64(s.Fits) / s.TotalMs / float64(workers)
		}
	}
	return s
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// saveTimingResults appends summary to a CSV file for performance analysis
func saveTimingResults(filename string, s models.BatchSummary) error {
	_, statErr := os.Stat(filename)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening timing file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		header := []string{
			"Timestamp", "BatchID", "Fits", "Succeeded", "Workers",
			"TotalBatchTime_ms", "MeanFitTime_ms", "MinFitTime_ms", "MaxFitTime_ms",
			"SuccessRate", "MeanR2", "FitsPerSecond", "EfficiencyScore",
		}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("writing timing header: %w", err)
		}
	}
	record := []string{
		time.Now().Format(time.RFC3339),
		s.BatchID,
		fmt.Sprintf("%d", s.Fits),
		fmt.Sprintf("%d", s.Succeeded),
		fmt.Sprintf("%d", s.Workers),
		fmt.Sprintf("%.2f", s.TotalMs),
		fmt.Sprintf("%.2f", s.MeanFitMs),
		fmt.Sprintf("%.2f", s.MinFitMs),
		fmt.Sprintf("%.2f", s.MaxFitMs),
		fmt.Sprintf("%.1f", s.SuccessRate),
		fmt.Sprintf("%.6f", s.MeanR2),
		fmt.Sprintf("%.2f", s.FitsPerSec),
		fmt.Sprintf("%.3f", s.Efficiency),
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("writing timing record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
