package gvsp

import (
	"time"

	"github.com/asgard/gvisiond/internal/stats"
)

// heartbeatLoop runs the heartbeat/recovery check on a 5 s cadence (spec
// §4.8 step 3), independent of the capture loop so it keeps running even
// while the capture loop idles with no client bound.
func (s *Service) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkHeartbeat()
		}
	}
}

// checkHeartbeat implements spec §4.8 step 3 in full: inactivity ->
// connection failure -> recovery mode after max_connection_failures,
// recovery timeout -> exit recovery, and the consistency force-cleanup.
func (s *Service) checkHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if s.clientAddr != nil && !s.lastActivity.IsZero() && now.Sub(s.lastActivity) > clientTimeout {
		s.failureCount++
		if s.failureCount >= maxConnectionFailures {
			s.enterRecoveryLocked(now)
		}
	}

	if s.recovering && now.Sub(s.recoveryStart) > recoveryTimeout {
		s.recovering = false
		s.failureCount = 0
	}

	s.enforceConsistencyLocked()
}

// enterRecoveryLocked stops streaming, clears the client binding, and
// records recovery start. Caller holds s.mu.
func (s *Service) enterRecoveryLocked(now time.Time) {
	s.active = false
	s.clientAddr = nil
	s.recovering = true
	s.recoveryStart = now
	s.counters.ClearBit(stats.BitClientConnected)
	s.counters.ClearBit(stats.BitStreamingActive)
}

// enforceConsistencyLocked validates {streaming => bound} and {failures>0
// => bound or recovering} (spec §4.8 step 3, §5); any violation is
// force-cleaned rather than left inconsistent. Caller holds s.mu.
func (s *Service) enforceConsistencyLocked() {
	if s.active && s.clientAddr == nil {
		s.active = false
		s.counters.ClearBit(stats.BitStreamingActive)
	}
	if s.failureCount > 0 && s.clientAddr == nil && !s.recovering {
		s.failureCount = 0
	}
}
