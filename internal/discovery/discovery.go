// Package discovery implements the discovery state machine and device UUID
// derivation (spec §4.6): periodic raw broadcast emission of bootstrap
// memory on the control port, and the deterministic 128-bit device
// identifier written into bootstrap memory at boot.
//
// Grounded on the teacher's GigE discovery packet in
// internal/orbital/hal/camera.go (`{0x42, 0x01, 0x00, 0x02, ...}`), sent
// there as a client; this package reimplements the server side of the same
// exchange, and on internal/security/vault's use of uuid.UUID as a typed
// identifier container.
package discovery

import (
	"context"
	"encoding/binary"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/codec"
)

// cmdAckDiscovery is gvcp.CmdDiscovery|ackBit (0x0002|0x0001), duplicated
// here as a bare constant rather than imported so this package never
// depends on internal/gvcp — the control service depends on discovery for
// periodic emission, not the reverse.
const cmdAckDiscovery uint16 = 0x0003

// Defaults per spec §4.6.
const (
	DefaultIntervalMs = 5000
	MinIntervalMs     = 1000
	MaxIntervalMs     = 30000
	DefaultRetries    = 3
	retrySpacing      = 50 * time.Millisecond
)

// magicB, magicE are the two bytes ('B','E') that open the raw broadcast
// form in place of the usual kind/flags fields — the distinguishing feature
// of the raw form versus a structured ACK (spec §4.6).
const (
	magicB byte = 0x42
	magicE byte = 0x45
)

// Service owns the discovery state machine: enable flag, cadence, and the
// monotonic sequence counter for outgoing broadcasts.
type Service struct {
	mu sync.Mutex

	enabled      bool
	intervalMs   int
	lastSentMs   int64
	sequence     uint32
	retries      int
	broadcastIPs []net.IP
}

// New returns a Service with spec §4.6 defaults (disabled, 5000 ms,
// retries=3), broadcasting to 224.0.0.1, 255.255.255.255, and the two
// subnet broadcasts derived from link.
func New(link bootstrap.LinkInfo) *Service {
	return &Service{
		intervalMs:   DefaultIntervalMs,
		retries:      DefaultRetries,
		broadcastIPs: destinationsFor(link),
	}
}

// Enabled and SetEnabled implement regmap.DiscoveryController.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Service) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

// SetIntervalMs sets the broadcast cadence, clamped to [1000, 30000].
func (s *Service) SetIntervalMs(ms int) {
	if ms < MinIntervalMs {
		ms = MinIntervalMs
	}
	if ms > MaxIntervalMs {
		ms = MaxIntervalMs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalMs = ms
}

// Tick is called on every control-service receive timeout (spec §4.5's
// "periodic tick"). If discovery is enabled and interval_ms has elapsed
// since the last cycle, it emits a broadcast cycle on conn using the first
// DiscoveryDataSize bytes of bs.
func (s *Service) Tick(conn *net.UDPConn, bs *bootstrap.Memory, nowMs int64) {
	s.mu.Lock()
	due := s.enabled && nowMs-s.lastSentMs >= int64(s.intervalMs)
	if due {
		s.lastSentMs = nowMs
	}
	s.mu.Unlock()

	if !due {
		return
	}
	s.emitCycle(conn, bs)
}

// emitCycle sends the raw broadcast form to every configured destination,
// each with its own monotonic sequence number; it retries each destination
// up to s.retries times with 50 ms spacing on failure. Per spec, "the cycle
// succeeds if any destination succeeded" — failures on the others are
// logged, not escalated.
func (s *Service) emitCycle(conn *net.UDPConn, bs *bootstrap.Memory) {
	payload := bs.ReadBytes(0, bootstrap.DiscoveryDataSize)
	anyOK := false

	// One retry-spacing limiter per cycle: a burst of one token refilling
	// every retrySpacing keeps retries across destinations paced without
	// hand-written time.Sleep bookkeeping (spec §4.6's "50 ms spacing").
	limiter := rate.NewLimiter(rate.Every(retrySpacing), 1)

	for _, ip := range s.broadcastIPs {
		s.mu.Lock()
		s.sequence++
		id := uint16(s.sequence % 65536)
		retries := s.retries
		s.mu.Unlock()

		buf := make([]byte, codec.GVCPHeaderSize+len(payload))
		marshalRaw(buf, id, payload)

		dst := &net.UDPAddr{IP: ip, Port: gvcpPort}
		ok := false
		for attempt := 0; attempt <= retries; attempt++ {
			if attempt > 0 {
				limiter.Wait(context.Background())
			}
			if _, err := conn.WriteToUDP(buf, dst); err == nil {
				ok = true
				break
			}
		}
		if ok {
			anyOK = true
		} else {
			log.Printf("discovery: broadcast to %s failed after %d attempts", dst, retries+1)
		}
	}

	if !anyOK {
		log.Printf("discovery: broadcast cycle failed on all destinations")
	}
}

// gvcpPort is the fixed control port discovery broadcasts are addressed to.
const gvcpPort = 3956

// marshalRaw packs the raw broadcast form into buf: magic bytes, command,
// size_words, id, then the bootstrap payload.
func marshalRaw(buf []byte, id uint16, payload []byte) {
	buf[0] = magicB
	buf[1] = magicE
	codec.PutU16(buf, 2, cmdAckDiscovery)
	codec.PutU16(buf, 4, uint16(len(payload)/4))
	codec.PutU16(buf, 6, id)
	copy(buf[codec.GVCPHeaderSize:], payload)
}

// destinationsFor computes the four emission destinations (spec §4.6):
// the all-networks multicast address, the limited broadcast address, and
// two heuristically-chosen subnet broadcasts derived from link's IPv4
// address and subnet mask (the directed broadcast, and the legacy
// class-based broadcast with the host octet set to .255).
func destinationsFor(link bootstrap.LinkInfo) []net.IP {
	directed := make(net.IP, 4)
	classBased := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		directed[i] = link.IPv4[i] | ^link.SubnetMask[i]
		classBased[i] = link.IPv4[i]
	}
	classBased[3] = 0xFF

	return []net.IP{
		net.IPv4(224, 0, 0, 1),
		net.IPv4(255, 255, 255, 255),
		net.IPv4(directed[0], directed[1], directed[2], directed[3]),
		net.IPv4(classBased[0], classBased[1], classBased[2], classBased[3]),
	}
}

// DeriveUUID computes the deterministic 128-bit device UUID (spec §4.6)
// from MAC, model, version, and chip-identity bytes, via four independent
// 32-bit hashes seeded with distinct constants, so the UUID is stable
// across reboots for a given device but distinct device attributes yield
// distinct UUIDs.
func DeriveUUID(mac [6]byte, model, version string, chipID []byte) uuid.UUID {
	var material []byte
	material = append(material, mac[:]...)
	material = append(material, model...)
	material = append(material, version...)
	material = append(material, chipID...)

	var out uuid.UUID
	seeds := [4]uint32{0x9E3779B9, 0x85EBCA6B, 0xC2B2AE35, 0x27D4EB2F}
	for i, seed := range seeds {
		h := seededFNV32(material, seed)
		binary.BigEndian.PutUint32(out[i*4:i*4+4], h)
	}
	return out
}

// seededFNV32 is an FNV-1a variant whose offset basis is XORed with seed,
// giving four independent hash functions over the same input from four
// distinct seeds.
func seededFNV32(data []byte, seed uint32) uint32 {
	const prime = 16777619
	h := uint32(2166136261) ^ seed
	for _, b := range data {
		h ^= uint32(b)
		h *= prime
	}
	return h
}
