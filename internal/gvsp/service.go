// Package gvsp implements the streaming service (spec §4.8): a one-way UDP
// sender that fragments captured frames into leader/data/trailer sequences,
// paces emission, tracks client binding, and recovers from client
// inactivity.
//
// Grounded on internal/orbital/hal/camera.go's streamLoop (ticker-driven
// capture-and-publish loop with a stopChan) and mock_camera.go's identical
// shape for the mock backend.
package gvsp

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/asgard/gvisiond/internal/codec"
	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/hal"
	"github.com/asgard/gvisiond/internal/netutil"
	"github.com/asgard/gvisiond/internal/stats"
)

// Defaults and limits per spec §6, §4.8.
const (
	DefaultPort         = 50010
	DefaultPacketSize   = 1400
	MinPacketSize       = 512
	MaxPacketSize       = 1400
	DefaultPacketDelay  = 1000
	MinPacketDelayUs    = 100
	MaxPacketDelayUs    = 100000
	DefaultFrameRateFps = 1
	MinFrameRateFps     = 1
	MaxFrameRateFps     = 30

	clientTimeout         = 30 * time.Second
	maxConnectionFailures = 3
	recoveryTimeout       = 60 * time.Second
	heartbeatInterval     = 5 * time.Second
	idleSleep             = 100 * time.Millisecond

	sendBufferBytes = 8 * 1024
	recvBufferBytes = 4 * 1024
)

// Status bits for the stream-status feature register (spec §3, §4.8),
// local to this package and distinct from stats.Counters' connection bits:
// this is the per-stream detail register, not the process-wide summary.
const (
	StatusBitActive uint32 = 1 << iota
	StatusBitClientBound
	StatusBitRecovery
	StatusBitError
)

// Service is the streaming service: one UDP socket, a frame ring, and the
// client-binding/pacing state machine of spec §4.8.
type Service struct {
	cam      hal.Camera
	ring     *frame.Ring
	counters *stats.Counters

	conn *net.UDPConn

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu sync.Mutex // guards every field below (spec §5 "streaming mutex")

	active      bool
	blockID     uint32
	packetID    uint16
	clientAddr  *net.UDPAddr
	scpHostPort uint32

	packetSizeBytes uint32
	packetDelayUs   uint32
	frameRateFps    uint32

	lastActivity  time.Time
	failureCount  int
	recovering    bool
	recoveryStart time.Time
	errorBit      bool

	expectedNext uint32
	lastReceived uint32
	outOfOrder   uint64
	lostFrames   uint64
	duplicate    uint64

	// lastPayloadSize backs PayloadSizeBytes (regmap.StreamController) and
	// is updated outside s.mu since it is only ever written from emitFrame,
	// which never runs concurrently with itself.
	lastPayloadSize atomic.Uint32
}

// New returns a Service bound to no socket yet; call Start to bind and run
// the cooperative loop.
func New(cam hal.Camera, ring *frame.Ring, counters *stats.Counters) *Service {
	return &Service{
		cam:             cam,
		ring:            ring,
		counters:        counters,
		stopCh:          make(chan struct{}),
		packetSizeBytes: DefaultPacketSize,
		packetDelayUs:   DefaultPacketDelay,
		frameRateFps:    DefaultFrameRateFps,
	}
}

// Start binds the streaming UDP socket on port and launches the cooperative
// loop goroutine.
func (s *Service) Start(port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}
	if err := netutil.SetBuffers(conn, sendBufferBytes, recvBufferBytes); err != nil {
		log.Printf("gvsp: socket buffer tuning failed: %v", err)
	}
	s.conn = conn

	s.counters.SetBit(stats.BitGVSPSocketUp)

	s.wg.Add(2)
	go s.loop()
	go s.heartbeatLoop()
	return nil
}

// Stop halts the cooperative loop and closes the socket.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	if s.conn != nil {
		s.conn.Close()
	}
	s.counters.ClearBit(stats.BitGVSPSocketUp)
}

// loop is the cooperative frame-emission loop (spec §4.8 step 1-2).
func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		recovering := s.recovering
		active := s.active
		bound := s.clientAddr != nil
		s.mu.Unlock()

		if recovering || !active || !bound {
			time.Sleep(idleSleep)
			continue
		}

		s.emitFrame()
	}
}

// emitFrame performs one capture-and-publish cycle: capture, sequence
// tracking, leader/data/trailer emission, a ring store if the emission
// succeeded, then sleeps to the configured frame rate (spec §4.8 step 2).
func (s *Service) emitFrame() {
	start := time.Now()

	f, err := s.cam.CaptureFrame(context.Background())
	if err != nil {
		s.setErrorBit(true)
		return
	}
	defer s.cam.ReturnFrame(f)
	s.lastPayloadSize.Store(uint32(len(f.Bytes)))

	s.mu.Lock()
	blockID := s.blockID + 1
	s.blockID = blockID
	dst := s.clientAddr
	packetSize := s.packetSizeBytes
	delayUs := s.packetDelayUs
	fps := s.frameRateFps
	s.lastActivity = time.Now()
	s.trackSequenceLocked(blockID)
	s.mu.Unlock()

	if dst == nil {
		return
	}

	if err := s.emitSequence(dst, blockID, packetSize, delayUs, f); err != nil {
		s.setErrorBit(true)
		log.Printf("gvsp: frame %d emission failed: %v", blockID, err)
	} else {
		s.setErrorBit(false)
		s.ring.Store(frame.Entry{
			BlockID:     blockID,
			Width:       f.Width,
			Height:      f.Height,
			PixelFormat: uint32(f.PixelFormat),
			Bytes:       f.Bytes,
			CapturedAt:  start,
		})
		s.counters.IncFramesCaptured()
	}

	period := time.Second / time.Duration(max(fps, 1))
	if elapsed := time.Since(start); elapsed < period {
		time.Sleep(period - elapsed)
	}
}

// emitSequence sends exactly one LEADER, ceil(L/packetSize) DATA packets,
// and one TRAILER, all sharing blockID, to dst (spec §4.8, §8 invariant 5).
func (s *Service) emitSequence(dst *net.UDPAddr, blockID uint32, packetSize, delayUs uint32, f hal.Frame) error {
	limiter := rate.NewLimiter(rate.Every(time.Duration(delayUs)*time.Microsecond), 1)
	ctx := context.Background()

	leaderBuf := make([]byte, codec.GVSPHeaderSize+codec.LeaderPayloadSize)
	hdr := codec.GVSPHeader{Kind: gvspKindLeader, PacketID: s.nextPacketID(), Data: [2]uint32{blockID, 0}}
	hdr.Marshal(leaderBuf)
	leader := codec.Leader{
		PayloadType: codec.PayloadTypeImage,
		PixelFormat: uint32(f.PixelFormat),
		SizeX:       f.Width,
		SizeY:       f.Height,
	}
	leader.SetTimestamp(uint64(time.Now().UnixMicro()))
	leader.Marshal(leaderBuf[codec.GVSPHeaderSize:])
	if _, err := s.conn.WriteToUDP(leaderBuf, dst); err != nil {
		return err
	}
	s.counters.IncStreamPacketsTx()

	for offset := 0; offset < len(f.Bytes); offset += int(packetSize) {
		limiter.Wait(ctx)

		end := offset + int(packetSize)
		if end > len(f.Bytes) {
			end = len(f.Bytes)
		}
		chunk := f.Bytes[offset:end]

		buf := make([]byte, codec.GVSPHeaderSize+len(chunk))
		dh := codec.GVSPHeader{Kind: gvspKindData, PacketID: s.nextPacketID(), Data: [2]uint32{blockID, uint32(offset)}}
		dh.Marshal(buf)
		copy(buf[codec.GVSPHeaderSize:], chunk)
		if _, err := s.conn.WriteToUDP(buf, dst); err != nil {
			return err
		}
		s.counters.IncStreamPacketsTx()
	}

	trailerBuf := make([]byte, codec.GVSPHeaderSize+codec.TrailerPayloadSize)
	th := codec.GVSPHeader{Kind: gvspKindTrailer, PacketID: s.nextPacketID(), Data: [2]uint32{blockID, 0}}
	th.Marshal(trailerBuf)
	trailer := codec.Trailer{PayloadType: codec.PayloadTypeImage, SizeY: f.Height}
	trailer.Marshal(trailerBuf[codec.GVSPHeaderSize:])
	if _, err := s.conn.WriteToUDP(trailerBuf, dst); err != nil {
		return err
	}
	s.counters.IncStreamPacketsTx()

	return nil
}

// GVSP packet kinds. Spec §3 reuses the GVCP kind byte values; leader and
// trailer share CMD (0x42) with flags distinguishing role in real GigE
// Vision, but since this core does not implement multi-part component
// streams, a dedicated kind byte per role keeps resend/test logic simple
// and unambiguous.
const (
	gvspKindLeader  uint8 = 0x01
	gvspKindData    uint8 = 0x02
	gvspKindTrailer uint8 = 0x03
)

func (s *Service) nextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.packetID
	s.packetID++
	return id
}

func (s *Service) setErrorBit(v bool) {
	s.mu.Lock()
	s.errorBit = v
	s.mu.Unlock()
}

// trackSequenceLocked updates the advisory frame-sequence counters (spec
// §4.8.2). Caller holds s.mu.
func (s *Service) trackSequenceLocked(received uint32) {
	switch {
	case received == s.expectedNext:
		s.expectedNext = received + 1
	case received <= s.lastReceived:
		s.duplicate++
	case received > s.expectedNext:
		s.lostFrames += uint64(received - s.expectedNext)
		s.expectedNext = received + 1
	default:
		s.outOfOrder++
	}
	s.lastReceived = received
}
