package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kacperjurak/cxtfit"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/kacperjurak/cxtfit/pkg/profiling"
	"github.com/kacperjurak/cxtfit/pkg/webhook"
	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that is shutting down.
var ErrPoolClosed = errors.New("worker pool closed")

// ProcessorFunc runs one fit.
type ProcessorFunc func(ctx context.Context, req models.FitRequest) (*cxtfit.OptimizerResult, error)

// Sender delivers finished results, see pkg/webhook.
type Sender interface {
	Send(ctx context.Context, item models.WebhookItem) error
}

// Pool manages concurrent fit workers
type Pool struct {
	jobs         chan models.WorkItem
	webhookQueue chan models.WebhookItem
	workers      int
	processor    ProcessorFunc
	sender       Sender
	log          logrus.FieldLogger
	profile      bool

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	sendWG   sync.WaitGroup

	mu     sync.RWMutex
	status map[string]*models.JobStatus
}

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	QueueSize int
	Processor ProcessorFunc
	// Sender may be nil, results are then only kept for status queries.
	Sender Sender
	Log    logrus.FieldLogger
	// Profile logs duration and memory delta of every job.
	Profile bool
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 2
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	// webhooks may be slower than fits, so their buffer is larger
	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		jobs:         make(chan models.WorkItem, opts.QueueSize),
		webhookQueue: make(chan models.WebhookItem, opts.QueueSize*2),
		workers:      opts.Workers,
		processor:    opts.Processor,
		sender:       opts.Sender,
		log:          opts.Log,
		profile:      opts.Profile,
		ctx:          ctx,
		cancel:       cancel,
		shutdown:     make(chan struct{}),
		status:       make(map[string]*models.JobStatus),
	}

	pool.start()
	return pool
}

// start initializes and starts all workers
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.webhookProcessor()

	p.log.WithField("workers", p.workers).Info("worker pool started")
}

// Workers returns the number of fit workers.
func (p *Pool) Workers() int { return p.workers }

// Done is closed when the pool starts shutting down.
func (p *Pool) Done() <-chan struct{} { return p.shutdown }

// worker processes fit jobs from the jobs channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(id, job)
			p.complete(job, result)

		case <-p.shutdown:
			return
		}
	}
}

// processJob runs the processor and recovers from its panics.
func (p *Pool) processJob(workerID int, job models.WorkItem) (result models.WorkResult) {
	p.setState(job.RequestID, models.JobRunning, nil)
	start := time.Now()
	result = models.WorkResult{ID: job.ID, RequestID: job.RequestID, BatchID: job.BatchID}
	if p.profile {
		defer profiling.TrackFit(p.log, workerID, job.RequestID)()
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"worker": workerID, "request": job.RequestID, "panic": r}).
				Error("fit panicked")
			result.Err = errors.New("internal error during fit")
			result.Success = false
		}
		result.ProcessingTime = time.Since(start)
	}()

	res, err := p.processor(p.ctx, job.Request)
	result.Result = res
	result.Err = err
	result.Success = err == nil && res != nil
	p.log.WithFields(logrus.Fields{
		"worker":  workerID,
		"request": job.RequestID,
		"success": result.Success,
	}).Debug("fit job finished")
	return result
}

// complete records the result and routes it to the reply channel or the
// webhook queue.
func (p *Pool) complete(job models.WorkItem, result models.WorkResult) {
	state := models.JobCompleted
	if !result.Success {
		state = models.JobFailed
	}
	item := models.WebhookItem{RequestID: job.RequestID, BatchID: job.BatchID, Result: result}
	p.setState(job.RequestID, state, &item)

	if job.Reply != nil {
		// Reply channels are buffered for the whole batch.
		job.Reply <- result
		return
	}
	p.QueueWebhook(item)
}

// webhookProcessor handles webhook requests asynchronously
func (p *Pool) webhookProcessor() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.webhookQueue:
			if p.sender == nil {
				continue
			}
			// send without blocking the queue, retries may take long
			p.sendWG.Add(1)
			go func(item models.WebhookItem) {
				defer p.sendWG.Done()
				if err := p.sender.Send(p.ctx, item); err != nil {
					p.log.WithError(err).WithField("request", item.RequestID).Warn("webhook delivery failed")
				}
			}(item)

		case <-p.shutdown:
			return
		}
	}
}

// SubmitJob submits a job to the worker pool. It blocks while the queue is
// full and fails once the pool shuts down.
func (p *Pool) SubmitJob(job models.WorkItem) error {
	select {
	case <-p.shutdown:
		return ErrPoolClosed
	default:
	}
	if job.StartTime.IsZero() {
		job.StartTime = time.Now()
	}
	p.mu.Lock()
	p.status[job.RequestID] = &models.JobStatus{
		ID:        job.RequestID,
		BatchID:   job.BatchID,
		State:     models.JobQueued,
		Submitted: job.StartTime,
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return nil
	default:
		p.log.WithField("request", job.RequestID).Warn("worker pool queue full, job delayed")
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.shutdown:
		p.setState(job.RequestID, models.JobFailed, nil)
		return ErrPoolClosed
	}
}

// QueueWebhook queues a webhook for async processing
func (p *Pool) QueueWebhook(item models.WebhookItem) {
	select {
	case p.webhookQueue <- item:
	default:
		p.log.WithField("request", item.RequestID).Warn("webhook queue full, dropping webhook")
	}
}

// Status returns the state of a submitted job.
func (p *Pool) Status(id string) (models.JobStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.status[id]
	if !ok {
		return models.JobStatus{}, false
	}
	return *st, true
}

// Forget drops the status of a job.
func (p *Pool) Forget(id string) {
	p.mu.Lock()
	delete(p.status, id)
	p.mu.Unlock()
}

func (p *Pool) setState(id string, state models.JobState, item *models.WebhookItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[id]
	if !ok {
		return
	}
	st.State = state
	if item != nil {
		st.Report = webhook.NewReport(*item)
	}
}

// Shutdown stops accepting jobs, aborts running fits and waits for the
// workers and pending webhook deliveries.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.log.Info("shutting down worker pool")
		close(p.shutdown)
		p.cancel()
		p.wg.Wait()
		p.sendWG.Wait()
		p.log.Info("worker pool shutdown complete")
	})
}
