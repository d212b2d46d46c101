// Package queue dispatches turns to a fixed pool of workers. Jobs are ordered
// by priority class and, within a conversation, strictly by submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lumenclean/internal/models"
	"lumenclean/pkg/logger"
)

var (
	ErrQueueStopped   = errors.New("queue is stopped")
	ErrQueueFull      = errors.New("queue is full")
	ErrNoWorkers      = errors.New("at least one worker is required")
	ErrAlreadyStarted = errors.New("workers already started")
)

// Priority classes, highest served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh

	numPriorities = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// PriorityFor assigns assistant turns low priority, user turns headed for full
// cleaning high priority and every other user turn normal priority.
func PriorityFor(turn *models.Turn, settings models.ConversationSettings) Priority {
	if turn.Speaker.IsAssistant() {
		return PriorityLow
	}
	level := settings.CleaningLevel
	if turn.LevelOverride.Valid() {
		level = turn.LevelOverride
	}
	if level == models.LevelFull {
		return PriorityHigh
	}
	return PriorityNormal
}

// Processor runs one turn to a terminal state.
type Processor interface {
	Process(ctx context.Context, turn *models.Turn, settings models.ConversationSettings) (*models.Turn, error)
	Abort(ctx context.Context, turn *models.Turn, settings models.ConversationSettings, cause error) (*models.Turn, error)
}

// Publisher receives every turn once it reaches a terminal state.
type Publisher interface {
	Publish(turn *models.Turn)
}

// Job binds a turn to its priority and the settings in force at submission.
type Job struct {
	ID         string
	Turn       *models.Turn
	Settings   models.ConversationSettings
	Priority   Priority
	EnqueuedAt time.Time

	seq uint64
}

// convState tracks per-conversation dispatch order. It is dropped once the
// conversation has nothing queued or running.
type convState struct {
	nextSeq uint64 // assigned to the next enqueued job
	next    uint64 // sequence allowed to run next
	busy    bool
	pending int
}

type convCounters struct {
	processed int64
	failed    int64
}

// Queue is a priority job queue serviced by a worker pool.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	lanes [numPriorities][]*Job
	convs map[string]*convState
	done  map[string]*convCounters

	processor  Processor
	publisher  Publisher
	maxPending int

	queued   int
	workers  int
	active   int
	started  bool
	stopping bool

	stats stats

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithPublisher sets where finished turns are announced.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// WithMaxPending bounds the number of queued jobs. Zero means unbounded.
func WithMaxPending(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxPending = n
		}
	}
}

// New creates a queue. Jobs may be enqueued before workers start.
func New(processor Processor, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		convs:     make(map[string]*convState),
		done:      make(map[string]*convCounters),
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits turn for processing with a snapshot of its conversation's settings.
func (q *Queue) Enqueue(turn *models.Turn, settings models.ConversationSettings) (string, error) {
	return q.enqueue(turn, settings, true)
}

// Restore queues a turn recovered from storage. It ignores the pending bound.
func (q *Queue) Restore(turn *models.Turn, settings models.ConversationSettings) (string, error) {
	return q.enqueue(turn, settings, false)
}

func (q *Queue) enqueue(turn *models.Turn, settings models.ConversationSettings, bounded bool) (string, error) {
	if turn == nil {
		return "", errors.New("nil turn")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping {
		return "", ErrQueueStopped
	}
	if bounded && q.maxPending > 0 && q.queued >= q.maxPending {
		return "", ErrQueueFull
	}

	conv := q.conv(turn.ConversationID)
	job := &Job{
		ID:         uuid.NewString(),
		Turn:       turn,
		Settings:   settings,
		Priority:   PriorityFor(turn, settings),
		EnqueuedAt: time.Now(),
		seq:        conv.nextSeq,
	}
	conv.nextSeq++
	conv.pending++

	q.lanes[job.Priority] = append(q.lanes[job.Priority], job)
	q.queued++
	q.stats.total++

	logger.Debug("Job enqueued",
		"job_id", job.ID,
		"turn_id", turn.ID,
		"conversation_id", turn.ConversationID,
		"priority", job.Priority)

	q.cond.Signal()
	return job.ID, nil
}

// CanAccept reports whether an Enqueue issued now would be admitted.
func (q *Queue) CanAccept() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return ErrQueueStopped
	}
	if q.maxPending > 0 && q.queued >= q.maxPending {
		return ErrQueueFull
	}
	return nil
}

// StartWorkers launches n workers. It may be called once.
func (q *Queue) StartWorkers(n int) error {
	if n < 1 {
		return ErrNoWorkers
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return ErrQueueStopped
	}
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true
	q.workers = n

	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logger.Info("Worker pool started", "workers", n, "queued", q.queued)
	return nil
}

// Stop refuses new jobs and waits for the queued ones to finish. If ctx ends
// first, in-flight backend calls are cancelled and Stop waits for workers to
// record them before returning ctx's error.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopping = true
	started := q.started
	q.cond.Broadcast()
	q.mu.Unlock()

	if !started {
		q.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		logger.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		logger.Warn("Drain deadline reached, cancelling in-flight jobs")
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) conv(id string) *convState {
	c, ok := q.convs[id]
	if !ok {
		c = &convState{}
		q.convs[id] = c
	}
	return c
}

func (q *Queue) counters(id string) *convCounters {
	c, ok := q.done[id]
	if !ok {
		c = &convCounters{}
		q.done[id] = c
	}
	return c
}

// popLocked removes the highest-priority, oldest job whose conversation is
// idle and whose turn is next in that conversation's submission order.
func (q *Queue) popLocked() *Job {
	for p := numPriorities - 1; p >= 0; p-- {
		lane := q.lanes[p]
		for i, job := range lane {
			conv := q.convs[job.Turn.ConversationID]
			if conv.busy || job.seq != conv.next {
				continue
			}
			q.lanes[p] = append(lane[:i], lane[i+1:]...)
			q.queued--
			conv.busy = true
			return job
		}
	}
	return nil
}
