// Package ledger records per-request usage asynchronously so the request
// path never blocks on persistence.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/repositories"
)

// Config holds configuration for the ledger service.
type Config struct {
	// BufferSize is the capacity of the pending record channel.
	BufferSize int

	// WorkerCount is the number of concurrent insert workers.
	WorkerCount int

	// InsertTimeout bounds each insert against the repository.
	InsertTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		WorkerCount:   4,
		InsertTimeout: 5 * time.Second,
	}
}

// Service writes ledger records through a bounded channel drained by
// background workers. Record never blocks: when the buffer is full the
// record is dropped and a warning logged, on the principle that losing an
// accounting row is better than stalling a live request.
type Service struct {
	repo    repositories.LedgerRepository
	logger  *zap.Logger
	records chan *models.LedgerRecord
	config  Config
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewService creates a ledger service. Start must be called before Record.
func NewService(repo repositories.LedgerRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = DefaultConfig().InsertTimeout
	}

	return &Service{
		repo:    repo,
		logger:  logger,
		records: make(chan *models.LedgerRecord, config.BufferSize),
		config:  config,
	}
}

// Start launches the background workers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("ledger service already started")
	}

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started ledger service",
		zap.Int("worker_count", s.config.WorkerCount),
		zap.Int("buffer_size", s.config.BufferSize))
	return nil
}

// Stop drains pending records and waits for workers up to timeout.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("ledger service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping ledger service", zap.Int("pending_records", len(s.records)))
	close(s.records)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ledger service stop timeout after %v", timeout)
	}
}

// Record queues a ledger record for background insertion. It returns an
// error when the record was dropped, which callers may log but must not
// propagate to the request. The mutex is held across the send so Stop
// cannot close the channel underneath an in-flight enqueue.
func (s *Service) Record(record *models.LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("ledger service not started")
	}

	select {
	case s.records <- record:
		return nil
	default:
		s.logger.Warn("ledger buffer full, dropping record",
			zap.String("fingerprint", record.Fingerprint),
			zap.String("provider", record.Provider))
		return fmt.Errorf("ledger buffer full")
	}
}

// Pending returns the number of queued records.
func (s *Service) Pending() int {
	return len(s.records)
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for record := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.InsertTimeout)
		err := s.repo.Insert(ctx, record)
		cancel()

		if err != nil {
			s.logger.Error("failed to insert ledger record",
				zap.Int("worker_id", id),
				zap.String("fingerprint", record.Fingerprint),
				zap.Error(err))
		}
	}
}
