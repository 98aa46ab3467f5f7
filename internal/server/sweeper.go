package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPresenceSweeper marks players disconnected once their heartbeat is older than the
// presence timeout. It returns when ctx is done.
func (s *Server) RunPresenceSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.PresenceSweepInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			swept, err := s.coord.SweepPresence(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("presence sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				s.logger.Info("presence swept", zap.Int("players", swept))
			}
		}
	}
}
