package server

import (
	"context"

	"insider/internal/coordinator"
)

// Publish is the coordinator's event bus: every broadcast goes to the room's subscribers,
// and phase changes re-arm the session's deadline timer.
func (s *Server) Publish(ctx context.Context, channel, event string, b coordinator.Broadcast) {
	s.hub.Publish(ctx, channel, event, b)
	if b.SessionID == "" || event != coordinator.EventPhaseChanged {
		return
	}
	if b.Phase.Timed() && b.DeadlineEpoch > 0 {
		s.timers.Schedule(b.SessionID, b.DeadlineEpoch)
		return
	}
	s.timers.Cancel(b.SessionID)
}
