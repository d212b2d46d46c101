package queue

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"lumenclean/internal/models"
	"lumenclean/pkg/logger"
)

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		job, ok := q.next()
		if !ok {
			logger.Debug("Worker exiting", "worker", id)
			return
		}
		q.run(id, job)
	}
}

// next blocks until a job is runnable or the queue has drained after Stop.
func (q *Queue) next() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if job := q.popLocked(); job != nil {
			q.active++
			return job, true
		}
		if q.stopping && q.queued == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

func (q *Queue) run(workerID int, job *Job) {
	startTime := time.Now()
	logger.Debug("Job started",
		"worker", workerID,
		"job_id", job.ID,
		"turn_id", job.Turn.ID,
		"wait_ms", startTime.Sub(job.EnqueuedAt).Milliseconds())

	turn, err := q.process(job)
	storeFailed := false
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			logger.Warn("Job skipped, turn not pending", "job_id", job.ID, "turn_id", job.Turn.ID, "error", err)
		} else {
			storeFailed = true
		}
	}
	elapsed := time.Since(startTime)

	if q.publisher != nil {
		// publish before releasing the conversation so its events stay in order
		q.publisher.Publish(turn.Clone())
	}
	q.finish(job, turn, storeFailed, elapsed)
}

// process runs the processor and converts a panic into the ERROR terminal state.
func (q *Queue) process(job *Job) (turn *models.Turn, err error) {
	defer func() {
		r := recover()
		if r == nil {
			if turn == nil {
				turn = job.Turn
			}
			return
		}
		logger.Error("Recovered from panic while processing turn",
			"job_id", job.ID,
			"turn_id", job.Turn.ID,
			"panic", r,
			"stack", string(debug.Stack()))
		turn, err = q.abort(job, fmt.Errorf("panic: %v", r))
	}()

	turn, err = q.processor.Process(q.ctx, job.Turn, job.Settings)
	if turn == nil {
		turn = job.Turn
	}
	if !turn.IsTerminal() {
		cause := errors.New("processor returned a non-terminal turn")
		if err != nil {
			cause = err
		}
		turn, err = q.abort(job, cause)
	}
	return turn, err
}

func (q *Queue) abort(job *Job, cause error) (turn *models.Turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Abort panicked, forcing terminal state", "turn_id", job.Turn.ID, "panic", r)
			forceError(job.Turn, cause)
			turn, err = job.Turn, nil
		}
	}()
	turn, err = q.processor.Abort(q.ctx, job.Turn, job.Settings, cause)
	if turn == nil {
		turn = job.Turn
	}
	if !turn.IsTerminal() {
		forceError(turn, cause)
	}
	return turn, err
}

func forceError(turn *models.Turn, cause error) {
	if turn.State == models.StatePending {
		_ = turn.Transition(models.StateProcessing)
	}
	turn.CleanedText = turn.RawText
	turn.CleaningApplied = false
	turn.Confidence = models.ConfidenceError
	turn.ContextDetected = "cleaning failed: " + cause.Error()
	_ = turn.Transition(models.StateCompleted)
}

func (q *Queue) finish(job *Job, turn *models.Turn, storeFailed bool, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	conv := q.conv(job.Turn.ConversationID)
	conv.busy = false
	conv.next++
	conv.pending--
	if conv.pending == 0 {
		delete(q.convs, job.Turn.ConversationID)
	}
	counters := q.counters(job.Turn.ConversationID)
	counters.processed++

	q.active--
	q.stats.processed++
	q.stats.totalTime += elapsed
	q.stats.last = time.Now().UTC()
	if turn.Failed() {
		counters.failed++
		q.stats.failed++
	}
	if storeFailed {
		q.stats.storeErrors++
	}

	logger.Debug("Job finished",
		"job_id", job.ID,
		"turn_id", turn.ID,
		"state", turn.State,
		"confidence", turn.Confidence,
		"duration_ms", elapsed.Milliseconds())

	if q.stopping {
		q.cond.Broadcast()
	} else {
		q.cond.Signal()
	}
}
