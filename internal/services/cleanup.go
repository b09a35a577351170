package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper removes leftovers older than a cutoff and reports how many it removed.
type Sweeper interface {
	SweepTemp(olderThan time.Time) (int, error)
}

// CleanupService periodically removes abandoned partial uploads.
// It runs as a background goroutine until Stop is called.
type CleanupService struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	log      *zap.Logger
}

// NewCleanupService creates a new cleanup service.
// - interval: how often to sweep
// - timeout: how old a temp file must be before it counts as abandoned
func NewCleanupService(sweeper Sweeper, interval, timeout time.Duration, log *zap.Logger) *CleanupService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CleanupService{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// Start begins the background cleanup worker.
// This method blocks and should be called with 'go'.
func (s *CleanupService) Start() {
	s.log.Info("cleanup_started", zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			s.log.Info("cleanup_stopped")
			return
		}
	}
}

// Stop shuts down the worker. Safe to call more than once.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *CleanupService) cleanup() {
	threshold := time.Now().Add(-s.timeout)

	removed, err := s.sweeper.SweepTemp(threshold)
	if err != nil {
		s.log.Warn("cleanup_failed", zap.Error(err))
	}
	if removed > 0 {
		s.log.Info("cleanup_removed", zap.Int("files", removed))
	}
}
