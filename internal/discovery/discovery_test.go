package discovery

import (
	"net"
	"testing"

	"github.com/asgard/gvisiond/internal/bootstrap"
)

func testLink() bootstrap.LinkInfo {
	return bootstrap.LinkInfo{
		MAC:        [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IPv4:       [4]byte{192, 168, 1, 42},
		SubnetMask: [4]byte{255, 255, 255, 0},
	}
}

func TestDestinationsForComputesBroadcasts(t *testing.T) {
	dests := destinationsFor(testLink())
	if len(dests) != 4 {
		t.Fatalf("got %d destinations want 4", len(dests))
	}
	if !dests[0].Equal(net.IPv4(224, 0, 0, 1)) {
		t.Fatalf("got %v want 224.0.0.1", dests[0])
	}
	if !dests[1].Equal(net.IPv4(255, 255, 255, 255)) {
		t.Fatalf("got %v want 255.255.255.255", dests[1])
	}
	if !dests[2].Equal(net.IPv4(192, 168, 1, 255)) {
		t.Fatalf("got %v want directed broadcast 192.168.1.255", dests[2])
	}
}

func TestEnabledDefaultsFalse(t *testing.T) {
	s := New(testLink())
	if s.Enabled() {
		t.Fatal("expected disabled by default")
	}
	s.SetEnabled(true)
	if !s.Enabled() {
		t.Fatal("expected enabled after SetEnabled(true)")
	}
}

func TestSetIntervalMsClamps(t *testing.T) {
	s := New(testLink())
	s.SetIntervalMs(500)
	if s.intervalMs != MinIntervalMs {
		t.Fatalf("got %d want %d", s.intervalMs, MinIntervalMs)
	}
	s.SetIntervalMs(100000)
	if s.intervalMs != MaxIntervalMs {
		t.Fatalf("got %d want %d", s.intervalMs, MaxIntervalMs)
	}
}

func TestTickOnlyFiresWhenEnabledAndDue(t *testing.T) {
	s := New(testLink())
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	bs := bootstrap.New()
	bs.Init(testLink(), bootstrap.DeviceIdentity{Manufacturer: "Asgard"})

	s.Tick(conn, bs, 1000) // disabled: no-op
	if s.sequence != 0 {
		t.Fatalf("expected no emission while disabled, sequence=%d", s.sequence)
	}

	s.SetEnabled(true)
	s.Tick(conn, bs, 5000) // 5000ms since lastSentMs=0: due
	if s.sequence == 0 {
		t.Fatal("expected emission once enabled and due")
	}

	seqAfterFirst := s.sequence
	s.Tick(conn, bs, 5500) // not yet due (interval 5000ms)
	if s.sequence != seqAfterFirst {
		t.Fatalf("expected no emission before interval elapses, sequence changed %d -> %d", seqAfterFirst, s.sequence)
	}
}

func TestDeriveUUIDStableAndDistinct(t *testing.T) {
	mac := [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	u1 := DeriveUUID(mac, "gvisiond", "1.0", []byte{0xAA})
	u2 := DeriveUUID(mac, "gvisiond", "1.0", []byte{0xAA})
	if u1 != u2 {
		t.Fatalf("expected stable UUID across calls, got %v vs %v", u1, u2)
	}

	u3 := DeriveUUID(mac, "gvisiond", "2.0", []byte{0xAA})
	if u1 == u3 {
		t.Fatal("expected distinct UUID for distinct version")
	}
}
