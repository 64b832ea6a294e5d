package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

type blockingLogRepo struct {
	repository.EvaluationLogRepository
	gate chan struct{}
	mu   sync.Mutex
	n    int
	fail bool
	boom bool
}

func (r *blockingLogRepo) Append(ctx context.Context, l *stagecond.EvaluationLog) error {
	if r.gate != nil {
		<-r.gate
	}
	if r.boom {
		panic("disk on fire")
	}
	if r.fail {
		return errors.New("db down")
	}
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	return nil
}

func TestAuditQueue_WritesAndDrains(t *testing.T) {
	repo := repository.NewMemoryEvaluationLogRepository()
	q := NewAuditQueue(repo, 16, 2, nil)

	for i := 0; i < 10; i++ {
		if !q.Enqueue(&stagecond.EvaluationLog{ID: stagecond.GenerateID("elog"), InstanceID: "inst-1", CreatedAt: time.Now()}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	logs, err := repo.ListByInstance(context.Background(), "inst-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 10 {
		t.Errorf("got %d logs, want 10", len(logs))
	}
	if got := q.Stats().Written; got != 10 {
		t.Errorf("Written = %d, want 10", got)
	}
	if q.Enqueue(&stagecond.EvaluationLog{InstanceID: "late"}) {
		t.Error("Enqueue after Close accepted, want rejected")
	}
}

func TestAuditQueue_DropsWhenFull(t *testing.T) {
	repo := &blockingLogRepo{gate: make(chan struct{})}
	q := NewAuditQueue(repo, 1, 1, nil)

	accepted := 0
	for i := 0; i < 5; i++ {
		if q.Enqueue(&stagecond.EvaluationLog{InstanceID: "inst-1"}) {
			accepted++
		}
	}
	if accepted > 2 {
		t.Errorf("accepted %d entries with one worker and a one-slot buffer, want at most 2", accepted)
	}
	if q.Stats().Dropped == 0 {
		t.Error("Dropped = 0, want drops when full")
	}
	close(repo.gate)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAuditQueue_ToleratesWriterFailure(t *testing.T) {
	repo := &blockingLogRepo{boom: true}
	q := NewAuditQueue(repo, 4, 1, nil)
	q.Enqueue(&stagecond.EvaluationLog{InstanceID: "a"})
	q.Enqueue(&stagecond.EvaluationLog{InstanceID: "b"})
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := q.Stats().Failed; got != 2 {
		t.Errorf("Failed = %d, want 2", got)
	}
}

func TestAuditQueue_CloseHonoursContext(t *testing.T) {
	repo := &blockingLogRepo{gate: make(chan struct{})}
	q := NewAuditQueue(repo, 4, 1, nil)
	q.Enqueue(&stagecond.EvaluationLog{InstanceID: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close error = %v, want DeadlineExceeded", err)
	}
	close(repo.gate)
}
