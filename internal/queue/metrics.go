package queue

import "time"

type stats struct {
	total       int64
	processed   int64
	failed      int64
	storeErrors int64
	totalTime   time.Duration
	last        time.Time
}

// Metrics is a point-in-time snapshot of the queue.
type Metrics struct {
	TotalJobs           int64      `json:"total_jobs" yaml:"total_jobs"`
	ProcessedJobs       int64      `json:"processed_jobs" yaml:"processed_jobs"`
	FailedJobs          int64      `json:"failed_jobs" yaml:"failed_jobs"`
	StoreErrors         int64      `json:"store_errors" yaml:"store_errors"`
	QueueLength         int        `json:"queue_length" yaml:"queue_length"`
	WorkerCount         int        `json:"worker_count" yaml:"worker_count"`
	ActiveWorkers       int        `json:"active_workers" yaml:"active_workers"`
	AvgProcessingTimeMS float64    `json:"avg_processing_time_ms" yaml:"avg_processing_time_ms"`
	LastProcessed       *time.Time `json:"last_processed,omitempty" yaml:"last_processed,omitempty"`

	// Set only for conversation-scoped snapshots.
	ConversationID        string `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	ConversationPending   int    `json:"conversation_pending" yaml:"conversation_pending"`
	ConversationProcessed int64  `json:"conversation_processed" yaml:"conversation_processed"`
	ConversationFailed    int64  `json:"conversation_failed" yaml:"conversation_failed"`
}

// Status returns a snapshot. A non-empty conversationID adds that
// conversation's pending, processed and failed counts.
func (q *Queue) Status(conversationID string) Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := Metrics{
		TotalJobs:     q.stats.total,
		ProcessedJobs: q.stats.processed,
		FailedJobs:    q.stats.failed,
		StoreErrors:   q.stats.storeErrors,
		QueueLength:   q.queued,
		WorkerCount:   q.workers,
		ActiveWorkers: q.active,
	}
	if q.stats.processed > 0 {
		m.AvgProcessingTimeMS = float64(q.stats.totalTime.Microseconds()) / 1000 / float64(q.stats.processed)
		last := q.stats.last
		m.LastProcessed = &last
	}
	if conversationID != "" {
		m.ConversationID = conversationID
		if conv, ok := q.convs[conversationID]; ok {
			m.ConversationPending = conv.pending
		}
		if c, ok := q.done[conversationID]; ok {
			m.ConversationProcessed = c.processed
			m.ConversationFailed = c.failed
		}
	}
	return m
}
