package api

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sajor2000/labmanager-sub002/domain"
)

// ActivityQueue is the downstream sink for activity records.
type ActivityQueue interface {
	EnqueueActivity(ctx context.Context, rec domain.ActivityRecord) error
}

// Dispatcher ships activity records to the queue off the request path. The
// commit path hands records over without waiting; a saturated buffer drops
// the record with a warning rather than stalling a move.
type Dispatcher struct {
	queue  ActivityQueue
	logger *log.Logger

	jobs chan domain.ActivityRecord
	wg   sync.WaitGroup
	stop sync.Once

	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	maxAttempts    int
}

// NewDispatcher starts the worker pool. Pool sizing and timeouts come from
// ACTIVITY_WORKERS, ACTIVITY_BUFFER, ACTIVITY_TIMEOUT,
// ACTIVITY_HANDOFF_TIMEOUT, ACTIVITY_RETRY_INITIAL, ACTIVITY_RETRY_MAX and
// ACTIVITY_RETRIES, with CPU-scaled worker defaults.
func NewDispatcher(queue ActivityQueue, logger *log.Logger) *Dispatcher {
	if queue == nil {
		panic("activity queue is not initialized")
	}
	if logger == nil {
		panic("logger is not initialized")
	}

	d := &Dispatcher{
		queue:          queue,
		logger:         logger,
		enqueueTimeout: envDur("ACTIVITY_TIMEOUT", 60*time.Second),
		handoffTimeout: envDur("ACTIVITY_HANDOFF_TIMEOUT", 15*time.Millisecond),
		retryInitial:   envDur("ACTIVITY_RETRY_INITIAL", 250*time.Millisecond),
		retryMax:       envDur("ACTIVITY_RETRY_MAX", 30*time.Second),
		maxAttempts:    envInt("ACTIVITY_RETRIES", 3),
	}
	workers := envInt("ACTIVITY_WORKERS", workersForCPU(runtime.NumCPU()))
	d.jobs = make(chan domain.ActivityRecord, envInt("ACTIVITY_BUFFER", 4096))
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	logger.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		workers, cap(d.jobs), d.enqueueTimeout, d.handoffTimeout)
	return d
}

// Submit hands a record to the pool without blocking the caller beyond the
// configured handoff window.
func (d *Dispatcher) Submit(rec domain.ActivityRecord) {
	if d.trySend(rec) {
		return
	}
	d.logger.WithFields(log.Fields{"lab": rec.LabID, "type": rec.Type}).
		Warn("activity buffer saturated, dropping record")
}

// Shutdown stops accepting records and waits for the workers to drain the
// buffered backlog.
func (d *Dispatcher) Shutdown() {
	d.stop.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for rec := range d.jobs {
		d.deliver(rec)
	}
}

func (d *Dispatcher) deliver(rec domain.ActivityRecord) {
	backoff := d.retryInitial
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.enqueueTimeout)
		err := d.queue.EnqueueActivity(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.WithFields(log.Fields{"lab": rec.LabID, "record": rec.ID, "attempts": attempt}).
				Errorf("activity delivery failed, dropping record: %v", err)
			return
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > d.retryMax {
			backoff = d.retryMax
		}
	}
}

func (d *Dispatcher) trySend(rec domain.ActivityRecord) (ok bool) {
	// Submissions may race Shutdown; a send on the closed channel reports
	// failure instead of panicking.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case d.jobs <- rec:
		return true
	default:
	}
	if d.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.handoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- rec:
		return true
	case <-timer.C:
		return false
	}
}
