package services

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepTemp(olderThan time.Time) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestCleanupServiceSweepsUntilStopped(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("disk gone")}
	svc := NewCleanupService(sweeper, 5*time.Millisecond, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		svc.Start()
		close(done)
	}()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}
