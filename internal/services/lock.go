package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrLockHeld is returned when another evaluation owns the key.
	ErrLockHeld = errors.New("evaluation already in progress")

	// ErrLockLost is the cancel cause of a lock context whose lease could
	// not be kept.
	ErrLockLost = errors.New("evaluation lock lost")
)

// LockMode selects what Acquire does when the key is taken.
type LockMode string

const (
	LockFailFast LockMode = "fail_fast"
	LockWait     LockMode = "wait"
)

// EvaluationLocker grants exclusive evaluation rights per key. Work done
// under the lock must use the returned context; it is canceled on release
// and, with cause ErrLockLost, when the lock can no longer be guaranteed.
// The release func is safe to call more than once.
type EvaluationLocker interface {
	Acquire(ctx context.Context, key string) (lockCtx context.Context, release func(), err error)
}

// EvaluationKey is the lock key of an (instance, stage) pair. The instance
// id is length-prefixed so ids containing the separator cannot collide.
func EvaluationKey(instanceID, stageID string) string {
	return strconv.Itoa(len(instanceID)) + ":" + instanceID + ":" + stageID
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is an in-process keyed lock. Each key is a one-slot
// semaphore; slots are dropped once nobody references them.
type MemoryLocker struct {
	mu          sync.Mutex
	slots       map[string]*lockSlot
	mode        LockMode
	waitTimeout time.Duration
}

func NewMemoryLocker(mode LockMode, waitTimeout time.Duration) *MemoryLocker {
	if mode == "" {
		mode = LockFailFast
	}
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	return &MemoryLocker{slots: make(map[string]*lockSlot), mode: mode, waitTimeout: waitTimeout}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	slot := l.ref(key)

	switch l.mode {
	case LockWait:
		waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
		select {
		case slot.ch <- struct{}{}:
		case <-waitCtx.Done():
			l.unref(key)
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, ErrLockHeld
		}
	default:
		select {
		case slot.ch <- struct{}{}:
		default:
			l.unref(key)
			return nil, nil, ErrLockHeld
		}
	}

	lockCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	return lockCtx, func() {
		once.Do(func() {
			cancel()
			<-slot.ch
			l.unref(key)
		})
	}, nil
}

// Held returns how many keys are currently referenced.
func (l *MemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *MemoryLocker) ref(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		s.refs--
		if s.refs <= 0 {
			delete(l.slots, key)
		}
	}
}
