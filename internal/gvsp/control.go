package gvsp

import (
	"errors"
	"net"
	"time"

	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/hal"
	"github.com/asgard/gvisiond/internal/stats"
)

// errBadValue is returned by the SetPacketDelayUs/SetFrameRateFps/
// SetPacketSizeBytes setters for out-of-range values; the register map
// (internal/regmap) maps any non-nil error from these to its own
// ErrBadValue. Declared locally rather than imported from regmap so this
// package stays free of a dependency regmap never needs back.
var errBadValue = errors.New("gvsp: value out of range")

// StartAcquisition, StopAcquisition, Active and the pacing getters/setters
// below implement regmap.StreamController (spec §4.8, §4.8.1): block_id
// resets to 0 so the first emitted frame carries block_id=1, per spec
// §4.8.1 "starts at 1 on Acquisition-Start".
func (s *Service) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.blockID = 0
	s.packetID = 0
	s.failureCount = 0
	s.recovering = false
	s.expectedNext = 1
	s.lastReceived = 0
	s.counters.SetBit(stats.BitStreamingActive)
	return nil
}

func (s *Service) StopAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.counters.ClearBit(stats.BitStreamingActive)
	return nil
}

func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) SetPacketDelayUs(us uint32) error {
	if us < MinPacketDelayUs || us > MaxPacketDelayUs {
		return errBadValue
	}
	s.mu.Lock()
	s.packetDelayUs = us
	s.mu.Unlock()
	return nil
}

func (s *Service) SetFrameRateFps(fps uint32) error {
	if fps < MinFrameRateFps || fps > MaxFrameRateFps {
		return errBadValue
	}
	s.mu.Lock()
	s.frameRateFps = fps
	s.mu.Unlock()
	return nil
}

func (s *Service) SetPacketSizeBytes(n uint32) error {
	if n < MinPacketSize || n > MaxPacketSize {
		return errBadValue
	}
	s.mu.Lock()
	s.packetSizeBytes = n
	s.mu.Unlock()
	return nil
}

func (s *Service) PacketDelayUs() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetDelayUs
}

func (s *Service) FrameRateFps() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameRateFps
}

func (s *Service) PacketSizeBytes() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetSizeBytes
}

// PayloadSizeBytes returns the last captured frame's byte length, or 0
// before the first capture.
func (s *Service) PayloadSizeBytes() uint32 {
	return s.lastPayloadSize.Load()
}

// StatusBits returns the per-stream detail register (spec §3 stream-status
// register), distinct from stats.Counters' process-wide bit-field.
func (s *Service) StatusBits() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bits uint32
	if s.active {
		bits |= StatusBitActive
	}
	if s.clientAddr != nil {
		bits |= StatusBitClientBound
	}
	if s.recovering {
		bits |= StatusBitRecovery
	}
	if s.errorBit {
		bits |= StatusBitError
	}
	return bits
}

// SetSCPHostPort sets the client-reconfigurable streaming destination port
// (0 means "use the default streaming port", spec §4.8.4).
func (s *Service) SetSCPHostPort(port uint32) {
	s.mu.Lock()
	s.scpHostPort = port
	s.mu.Unlock()
}

// SCPHostPort returns the configured streaming destination port, or 0 if
// unset.
func (s *Service) SCPHostPort() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scpHostPort
}

// SetClient stores the peer IPv4 address and resolves its streaming port:
// the configured SCP-host-port register if non-zero, else defaultPort
// (spec §4.8.4).
func (s *Service) SetClient(ip net.IP, defaultPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := int(s.scpHostPort)
	if port == 0 {
		port = defaultPort
	}
	s.clientAddr = &net.UDPAddr{IP: ip, Port: port}
	s.lastActivity = time.Now()
	s.failureCount = 0
	s.counters.SetBit(stats.BitClientConnected)
}

// ClearClient releases the client binding, stops streaming, and clears the
// streaming/connected status bits (spec §4.8.4).
func (s *Service) ClearClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientAddr = nil
	s.active = false
	s.counters.ClearBit(stats.BitClientConnected)
	s.counters.ClearBit(stats.BitStreamingActive)
}

// NoteActivity records client-originated traffic (any GVCP command from the
// bound peer), resetting the heartbeat inactivity clock (spec §4.8 step 3).
func (s *Service) NoteActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Resend implements resend(block_id) (spec §4.8.3): look up the block in
// the frame ring and, if present, re-emit the full leader/data/trailer
// sequence reusing the original block id.
func (s *Service) Resend(blockID uint32) error {
	entry, err := s.ring.Lookup(blockID)
	if err != nil {
		return frame.ErrNotFound
	}

	s.mu.Lock()
	dst := s.clientAddr
	packetSize := s.packetSizeBytes
	delayUs := s.packetDelayUs
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if dst == nil {
		return frame.ErrNotFound
	}

	f := hal.Frame{
		Bytes:       entry.Bytes,
		Width:       entry.Width,
		Height:      entry.Height,
		PixelFormat: hal.PixelFormat(entry.PixelFormat),
	}
	return s.emitSequence(dst, entry.BlockID, packetSize, delayUs, f)
}
