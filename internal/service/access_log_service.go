package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pyxhttp/pyx/internal/domain/access"
)

// AccessLogService records exchanges asynchronously through a buffered
// channel and a background worker, so connections never wait on the
// access log sink.
type AccessLogService struct {
	store         access.Store
	recordChan    chan access.Record
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // Percentage (0-100)
	lastWarning      atomic.Int64 // Unix nanos of the last depth warning

	adaptiveFlushThreshold int
}

var _ access.Recorder = (*AccessLogService)(nil)

// AccessLogOption configures AccessLogService.
type AccessLogOption func(*AccessLogService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AccessLogOption {
	return func(s *AccessLogService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AccessLogOption {
	return func(s *AccessLogService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the record channel buffer.
func WithChannelSize(size int) AccessLogOption {
	return func(s *AccessLogService) {
		if size > 0 {
			s.recordChan = make(chan access.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AccessLogOption {
	return func(s *AccessLogService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AccessLogOption {
	return func(s *AccessLogService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth percentage that makes
// the worker flush four times as often. 0 disables it.
func WithAdaptiveFlushThreshold(percent int) AccessLogOption {
	return func(s *AccessLogService) {
		s.adaptiveFlushThreshold = min(max(percent, 0), 100)
	}
}

// NewAccessLogService creates an AccessLogService writing to store.
func NewAccessLogService(store access.Store, logger *slog.Logger, opts ...AccessLogOption) *AccessLogService {
	defaultChannelSize := 1000
	s := &AccessLogService{
		store:                  store,
		recordChan:             make(chan access.Record, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            0,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker.
func (s *AccessLogService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues r for the worker. When the channel is full the record is
// dropped, after waiting up to the send timeout.
func (s *AccessLogService) Record(r access.Record) {
	if s.warningThreshold > 0 {
		depth := len(s.recordChan)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.recordChan <- r:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(r)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.recordChan <- r:
	case <-timer.C:
		s.recordDrop(r)
	}
}

func (s *AccessLogService) recordDrop(r access.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("access record dropped",
		"request_id", r.RequestID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AccessLogService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("access log channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the number of dropped records.
func (s *AccessLogService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AccessLogService) ChannelDepth() int {
	return len(s.recordChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AccessLogService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel and waits for the worker to flush what is queued.
// Record must not be called after Stop.
func (s *AccessLogService) Stop() {
	s.stopOnce.Do(func() {
		close(s.recordChan)
	})
	s.wg.Wait()
}

func (s *AccessLogService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]access.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case r, ok := <-s.recordChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, r)

			depthPercent := len(s.recordChan) * 100 / s.channelSize
			pressure := s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold

			if len(batch) >= s.batchSize || pressure {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			if pressure && !fastMode {
				ticker.Reset(s.flushInterval / 4)
				fastMode = true
				s.logger.Debug("access log adaptive flush: entering fast mode", "depth_percent", depthPercent)
			} else if !pressure && fastMode {
				ticker.Reset(s.flushInterval)
				fastMode = false
				s.logger.Debug("access log adaptive flush: returning to normal mode", "depth_percent", depthPercent)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Take what is already queued without waiting for Stop.
			for {
				select {
				case r, ok := <-s.recordChan:
					if ok {
						batch = append(batch, r)
						continue
					}
				default:
				}
				break
			}
			s.finalFlush(batch)
			return
		}
	}
}

func (s *AccessLogService) finalFlush(batch []access.Record) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(batch) > 0 {
		s.flush(flushCtx, batch)
	}
	if err := s.store.Flush(flushCtx); err != nil {
		s.logger.Error("failed to flush access log", "error", err)
	}
}

// flush writes a batch to the store. Errors are logged, never propagated to
// connections.
func (s *AccessLogService) flush(ctx context.Context, batch []access.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write access log batch",
			"error", err,
			"count", len(batch),
		)
	}
}
