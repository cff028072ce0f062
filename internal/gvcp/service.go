package gvcp

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/codec"
	"github.com/asgard/gvisiond/internal/discovery"
	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/netutil"
	"github.com/asgard/gvisiond/internal/regmap"
	"github.com/asgard/gvisiond/internal/stats"
)

// Port is the fixed control port (spec §3, §6).
const Port = 3956

// Tuning constants (spec §4.5).
const (
	receiveTimeout    = 500 * time.Millisecond
	sendFailThreshold = 3
	sendFailCooldown  = 15 * time.Second
	maxDatagramSize   = 2048
)

// StreamBinder is the collaborator capability the control service uses to
// bind/unbind the streaming destination and to request a retransmission
// (spec §4.8.4, §9 "Callback wiring"). Implemented by internal/gvsp.Service;
// declared here so this package does not import gvsp's concrete type.
type StreamBinder interface {
	SetClient(ip net.IP, defaultStreamPort int)
	NoteActivity()
	Active() bool
	Resend(blockID uint32) error
}

// Service is the control service: one UDP socket, the register map it
// dispatches against, and the discovery/streaming collaborators it drives.
type Service struct {
	bs       *bootstrap.Memory
	regs     *regmap.RegisterMap
	disc     *discovery.Service
	stream   StreamBinder
	counters *stats.Counters

	streamDefaultPort int

	conn *net.UDPConn

	stopCh chan struct{}
	wg     sync.WaitGroup

	sendFailMu     sync.Mutex
	sendFailures   int
	sendFailWindow time.Time

	knownClientsMu sync.Mutex
	knownClients   map[string]bool
}

// New returns a Service wired to its collaborators. streamDefaultPort is the
// streaming port advertised to newly-bound clients when the SCP-host-port
// register is unset (spec §4.8.4).
func New(bs *bootstrap.Memory, regs *regmap.RegisterMap, disc *discovery.Service, stream StreamBinder, counters *stats.Counters, streamDefaultPort int) *Service {
	return &Service{
		bs:                bs,
		regs:              regs,
		disc:              disc,
		stream:            stream,
		counters:          counters,
		streamDefaultPort: streamDefaultPort,
		stopCh:            make(chan struct{}),
		knownClients:      make(map[string]bool),
	}
}

// Start binds the control socket on 0.0.0.0:3956 with broadcast and
// address-reuse enabled, and launches the receive loop (spec §4.5).
func (s *Service) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: Port})
	if err != nil {
		return err
	}
	if err := netutil.EnableBroadcastAndReuse(conn); err != nil {
		log.Printf("gvcp: socket option tuning failed: %v", err)
	}
	s.conn = conn
	s.counters.SetBit(stats.BitGVCPSocketUp)

	s.wg.Add(1)
	go s.receiveLoop()
	return nil
}

// Stop halts the receive loop and closes the socket.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	if s.conn != nil {
		s.conn.Close()
	}
	s.counters.ClearBit(stats.BitGVCPSocketUp)
}

// receiveLoop is the control service's single receive path (spec §4.5,
// §5 "responds to commands in arrival order").
func (s *Service) receiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netutil.IsTimeout(err) {
				s.tick()
				continue
			}
			continue
		}

		s.counters.IncControlPacketsRx()
		s.handleDatagram(buf[:n], addr)
	}
}

// tick runs the periodic watchdog/discovery work triggered by a receive
// timeout (spec §4.5 "Periodic tick").
func (s *Service) tick() {
	s.disc.Tick(s.conn, s.bs, time.Now().UnixMilli())
}

func (s *Service) handleDatagram(buf []byte, addr *net.UDPAddr) {
	req, status, err := Validate(buf)
	if errors.Is(err, ErrRejected) {
		return
	}
	if status != StatusSuccess {
		s.respondNACK(addr, req.Header.Command, req.Header.ID, status)
		return
	}

	if s.stream.Active() && s.isKnownClient(addr) {
		s.stream.NoteActivity()
	}

	cmd := Command(req.Header.Command)
	switch cmd {
	case CmdDiscovery:
		s.handleDiscovery(req, addr)
	case CmdReadMemory:
		s.handleReadMemory(req, addr)
	case CmdWriteMemory:
		s.handleWriteMemory(req, addr)
	case CmdReadReg:
		s.handleReadReg(req, addr)
	case CmdWriteReg:
		s.handleWriteReg(req, addr)
	case CmdPacketResend:
		s.handlePacketResend(req, addr)
	default:
		s.respondNACK(addr, cmd, req.Header.ID, StatusNotImplemented)
	}
}

func (s *Service) isKnownClient(addr *net.UDPAddr) bool {
	s.knownClientsMu.Lock()
	defer s.knownClientsMu.Unlock()
	return s.knownClients[addr.IP.String()]
}

func (s *Service) rememberClient(addr *net.UDPAddr) {
	s.knownClientsMu.Lock()
	s.knownClients[addr.IP.String()] = true
	s.knownClientsMu.Unlock()
}

// handleDiscovery implements the DISCOVERY per-op contract (spec §4.5,
// §4.6 "Solicited responses"): structured ACK with the 248-byte bootstrap
// slice, followed by binding the sender as streaming destination.
func (s *Service) handleDiscovery(req Request, addr *net.UDPAddr) {
	payload := s.bs.ReadBytes(0, bootstrap.DiscoveryDataSize)
	buf := make([]byte, codec.GVCPHeaderSize+PaddedACKLen(len(payload)))
	n := BuildACK(buf, CmdAckDiscovery, req.Header.ID, payload)
	s.send(buf[:n], addr)

	s.rememberClient(addr)
	s.stream.SetClient(addr.IP, s.streamDefaultPort)
	s.counters.SetBit(stats.BitClientConnected)
}

// handleReadMemory implements READ_MEMORY (spec §4.5).
func (s *Service) handleReadMemory(req Request, addr *net.UDPAddr) {
	if len(req.Payload) != 8 {
		s.respondNACK(addr, CmdReadMemory, req.Header.ID, StatusInvalidParameter)
		return
	}
	address := codec.U32(req.Payload, 0)
	length := int(codec.U32(req.Payload, 4))

	if max := s.regs.MaxReadLength(address); length > max {
		length = max
	}

	data, err := s.regs.ReadBytes(address, length)
	if err != nil {
		s.respondNACK(addr, CmdReadMemory, req.Header.ID, statusFor(err))
		return
	}

	payload := make([]byte, 4+len(data))
	codec.PutU32(payload, 0, address)
	copy(payload[4:], data)
	s.respondACK(addr, CmdReadMemory, req.Header.ID, payload)
}

// handleWriteMemory implements WRITE_MEMORY (spec §4.5).
func (s *Service) handleWriteMemory(req Request, addr *net.UDPAddr) {
	if len(req.Payload) < 4 {
		s.respondNACK(addr, CmdWriteMemory, req.Header.ID, StatusInvalidParameter)
		return
	}
	address := codec.U32(req.Payload, 0)
	data := req.Payload[4:]

	if err := s.regs.WriteBytes(address, data); err != nil {
		s.respondNACK(addr, CmdWriteMemory, req.Header.ID, statusFor(err))
		return
	}

	payload := make([]byte, 4)
	codec.PutU32(payload, 0, address)
	s.respondACK(addr, CmdWriteMemory, req.Header.ID, payload)
}

// handleReadReg implements READREG (spec §4.5).
func (s *Service) handleReadReg(req Request, addr *net.UDPAddr) {
	if len(req.Payload) != 4 {
		s.respondNACK(addr, CmdReadReg, req.Header.ID, StatusInvalidParameter)
		return
	}
	address := codec.U32(req.Payload, 0)

	value, err := s.regs.ReadWord(address)
	if err != nil {
		s.respondNACK(addr, CmdReadReg, req.Header.ID, statusFor(err))
		return
	}

	payload := make([]byte, 4)
	codec.PutU32(payload, 0, value)
	s.respondACK(addr, CmdReadReg, req.Header.ID, payload)
}

// handleWriteReg implements WRITEREG (spec §4.5).
func (s *Service) handleWriteReg(req Request, addr *net.UDPAddr) {
	if len(req.Payload) != 8 {
		s.respondNACK(addr, CmdWriteReg, req.Header.ID, StatusInvalidParameter)
		return
	}
	address := codec.U32(req.Payload, 0)
	value := codec.U32(req.Payload, 4)

	if err := s.regs.WriteWord(address, value); err != nil {
		s.respondNACK(addr, CmdWriteReg, req.Header.ID, statusFor(err))
		return
	}
	s.respondACK(addr, CmdWriteReg, req.Header.ID, nil)
}

// handlePacketResend implements PACKETRESEND (spec §4.5, §4.8.3).
func (s *Service) handlePacketResend(req Request, addr *net.UDPAddr) {
	if len(req.Payload) != 8 {
		s.respondNACK(addr, CmdPacketResend, req.Header.ID, StatusInvalidParameter)
		return
	}
	streamIndex := codec.U32(req.Payload, 0)
	blockID := codec.U32(req.Payload, 4)

	if streamIndex != 0 {
		s.respondNACK(addr, CmdPacketResend, req.Header.ID, StatusInvalidParameter)
		return
	}
	if !s.stream.Active() {
		s.respondNACK(addr, CmdPacketResend, req.Header.ID, StatusWrongConfig)
		return
	}

	if err := s.stream.Resend(blockID); err != nil {
		if errors.Is(err, frame.ErrNotFound) {
			s.respondNACK(addr, CmdPacketResend, req.Header.ID, StatusInvalidParameter)
			return
		}
		s.respondNACK(addr, CmdPacketResend, req.Header.ID, StatusInvalidParameter)
		return
	}

	s.counters.IncResendRequests()
	payload := make([]byte, 8)
	codec.PutU32(payload, 0, streamIndex)
	codec.PutU32(payload, 4, blockID)
	s.respondACK(addr, CmdPacketResend, req.Header.ID, payload)
}

func (s *Service) respondACK(addr *net.UDPAddr, cmd Command, id uint16, payload []byte) {
	buf := make([]byte, codec.GVCPHeaderSize+PaddedACKLen(len(payload)))
	n := BuildACK(buf, cmd, id, payload)
	s.send(buf[:n], addr)
}

func (s *Service) respondNACK(addr *net.UDPAddr, cmd Command, id uint16, status StatusCode) {
	buf := make([]byte, codec.GVCPHeaderSize+4)
	n := BuildNACK(buf, cmd, id, status)
	s.send(buf[:n], addr)
}

// send writes buf to addr, counting and rate-limiting socket recreation on
// repeated failure (spec §4.5 "Failure semantics").
func (s *Service) send(buf []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(buf, addr); err != nil {
		if netutil.IsConnRefused(err) {
			// The peer's GVCP port isn't listening (ICMP port-unreachable);
			// our own socket is fine, so this shouldn't count toward
			// recreation the way a local socket failure would.
			log.Printf("gvcp: %s refused control response, dropping", addr)
			return
		}
		s.noteSendFailure()
		return
	}
	s.counters.IncControlPacketsTx()
}

func (s *Service) noteSendFailure() {
	s.sendFailMu.Lock()
	defer s.sendFailMu.Unlock()

	now := time.Now()
	if s.sendFailWindow.IsZero() || now.Sub(s.sendFailWindow) > sendFailCooldown {
		s.sendFailWindow = now
		s.sendFailures = 0
	}
	s.sendFailures++

	if s.sendFailures >= sendFailThreshold {
		log.Printf("gvcp: %d send failures within cooldown window, recreating socket", s.sendFailures)
		s.recreateSocket()
		s.sendFailures = 0
		s.sendFailWindow = now
	}
}

func (s *Service) recreateSocket() {
	old := s.conn
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: Port})
	if err != nil {
		log.Printf("gvcp: socket recreation failed: %v", err)
		return
	}
	if err := netutil.EnableBroadcastAndReuse(conn); err != nil {
		log.Printf("gvcp: socket option tuning failed: %v", err)
	}
	s.conn = conn
	if old != nil {
		old.Close()
	}
}

// statusFor maps a regmap dispatch error to its §4.4 NACK status code.
func statusFor(err error) StatusCode {
	switch {
	case errors.Is(err, regmap.ErrInvalidAddress):
		return StatusInvalidAddress
	case errors.Is(err, regmap.ErrWriteProtected):
		return StatusWriteProtect
	case errors.Is(err, regmap.ErrBadValue):
		return StatusInvalidParameter
	case errors.Is(err, regmap.ErrAccessDenied):
		return StatusAccessDenied
	case errors.Is(err, regmap.ErrBadAlignment):
		return StatusBadAlignment
	default:
		return StatusInvalidParameter
	}
}
