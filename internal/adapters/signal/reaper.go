package signal

import (
	"context"
	"time"
)

// RunReapers periodically garbage-collects transports stuck in
// negotiation and sessions with no signaling activity. Blocks until ctx
// is done; run it in its own goroutine.
func (ctl *Controller) RunReapers(ctx context.Context) {
	ticker := time.NewTicker(ctl.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctl.media.ReapIdleTransports(ctl.cfg.TransportIdleTimeout)
			ctl.reapIdleSessions(time.Now())
		}
	}
}

// reapIdleSessions treats a session with no round-trip inside the
// configured interval as disconnected and runs its cleanup path.
func (ctl *Controller) reapIdleSessions(now time.Time) {
	ctl.mu.RLock()
	var idle []*Session
	for _, s := range ctl.sessions {
		if s.idleFor(now) > ctl.cfg.SessionIdleTimeout {
			idle = append(idle, s)
		}
	}
	ctl.mu.RUnlock()

	for _, s := range idle {
		ctl.logger.Info().Str("sid", s.id).Msg("reaping idle session")
		ctl.Detach(s)
	}
}
