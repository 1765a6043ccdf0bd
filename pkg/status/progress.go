package status

import (
	"log/slog"
	"time"
)

// Progress logs pipeline counters at a fixed interval so unattended
// runs leave a trail even when nothing matches for hours.
type Progress struct {
	logger   *slog.Logger
	interval time.Duration
	counters func() []any
}

// NewProgress creates a progress reporter. counters supplies the
// key-value pairs logged on each tick.
func NewProgress(logger *slog.Logger, interval time.Duration, counters func() []any) *Progress {
	return &Progress{
		logger:   logger,
		interval: interval,
		counters: counters,
	}
}

// Start launches the reporting goroutine. It stops when stop closes.
func (p *Progress) Start(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.logger.Info("pipeline progress", p.counters()...)
			case <-stop:
				return
			}
		}
	}()
}
