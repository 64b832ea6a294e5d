package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// AuditQueue writes evaluation logs in the background. Enqueue never
// blocks: entries are dropped and counted when the buffer is full.
type AuditQueue struct {
	repo    repository.EvaluationLogRepository
	logger  *slog.Logger
	entries chan *stagecond.EvaluationLog
	group   *errgroup.Group

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// AuditStats reports queue counters.
type AuditStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

func NewAuditQueue(repo repository.EvaluationLogRepository, size, workers int, logger *slog.Logger) *AuditQueue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &AuditQueue{
		repo:    repo,
		logger:  logger,
		entries: make(chan *stagecond.EvaluationLog, size),
		group:   new(errgroup.Group),
	}
	for range workers {
		q.group.Go(q.work)
	}
	return q
}

// Enqueue schedules l for writing and reports whether it was accepted.
func (q *AuditQueue) Enqueue(l *stagecond.EvaluationLog) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.entries <- l:
		return true
	default:
		n := q.dropped.Add(1)
		q.logger.Warn("audit queue full, dropping evaluation log",
			"instance_id", l.InstanceID, "stage_id", l.StageID, "dropped_total", n)
		return false
	}
}

func (q *AuditQueue) work() error {
	for l := range q.entries {
		q.write(l)
	}
	return nil
}

func (q *AuditQueue) write(l *stagecond.EvaluationLog) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("audit writer panic", "instance_id", l.InstanceID, "panic", fmt.Sprint(r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.repo.Append(ctx, l); err != nil {
		q.failed.Add(1)
		q.logger.Warn("write evaluation log", "instance_id", l.InstanceID, "stage_id", l.StageID, "err", err)
		return
	}
	q.written.Add(1)
}

// Close stops accepting entries and waits for pending ones to be written,
// or for ctx to end.
func (q *AuditQueue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.entries)
		q.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		q.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *AuditQueue) Stats() AuditStats {
	return AuditStats{
		Written: q.written.Load(),
		Dropped: q.dropped.Load(),
		Failed:  q.failed.Load(),
		Pending: len(q.entries),
	}
}
