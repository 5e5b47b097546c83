package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Evictor interface {
	EvictIdle(ctx context.Context, timeout time.Duration) []string
}

// SessionReaper periodically evicts sessions that have been idle for too long.
type SessionReaper struct {
	evictor  Evictor
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSessionReaper(evictor Evictor, interval, timeout time.Duration, logger *slog.Logger) *SessionReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionReaper{
		evictor:  evictor,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("worker", "session_reaper"),
	}
}

func (r *SessionReaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	reaperCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-reaperCtx.Done():
				return
			case <-ticker.C:
				r.sweep(reaperCtx)
			}
		}
	}()
}

func (r *SessionReaper) sweep(ctx context.Context) {
	if ids := r.evictor.EvictIdle(ctx, r.timeout); len(ids) > 0 {
		r.logger.Info("idle sessions evicted", "count", len(ids), "session_ids", ids)
	}
}

func (r *SessionReaper) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
