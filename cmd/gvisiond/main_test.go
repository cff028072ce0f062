package main

import (
	"net"
	"testing"
	"time"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/codec"
	"github.com/asgard/gvisiond/internal/discovery"
	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/gvcp"
	"github.com/asgard/gvisiond/internal/gvsp"
	"github.com/asgard/gvisiond/internal/hal"
	"github.com/asgard/gvisiond/internal/regmap"
	"github.com/asgard/gvisiond/internal/stats"
)

// TestScenarioS5AcquisitionBurst matches spec scenario S5: a client
// discovers the device, binds as the stream destination, starts
// acquisition over GVCP, and receives one full leader/data/trailer burst
// for a 320x240 Mono8 frame (76800 bytes, 1400-byte packets: 1 leader + 55
// data + 1 trailer = 57 packets).
func TestScenarioS5AcquisitionBurst(t *testing.T) {
	const width, height = 320, 240

	bs := bootstrap.New()
	link := bootstrap.LinkInfo{MAC: [6]byte{0, 1, 2, 3, 4, 5}, IPv4: [4]byte{10, 0, 0, 7}}
	bs.Init(link, bootstrap.DeviceIdentity{Manufacturer: "Asgard", Model: "gvisiond"})

	regs := regmap.New(bs, nil)
	cam := hal.NewMockCamera(width, height)
	regs.InstallCameraRegisters(cam, hal.DefaultSnapshot(), width, height)

	counters := stats.New()
	regs.InstallStatsRegisters(counters)

	ring := frame.New(4)
	gvspSvc := gvsp.New(cam, ring, counters)
	if err := gvspSvc.SetPacketSizeBytes(1400); err != nil {
		t.Fatalf("set packet size: %v", err)
	}
	if err := gvspSvc.SetFrameRateFps(gvsp.MaxFrameRateFps); err != nil {
		t.Fatalf("set frame rate: %v", err)
	}
	regs.InstallStreamRegisters(gvspSvc)

	disc := discovery.New(link)
	regs.InstallDiscoveryRegister(disc)

	streamClient, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen stream client: %v", err)
	}
	defer streamClient.Close()
	streamPort := streamClient.LocalAddr().(*net.UDPAddr).Port

	if err := gvspSvc.Start(0); err != nil {
		t.Fatalf("start gvsp: %v", err)
	}
	defer gvspSvc.Stop()

	gvcpSvc := gvcp.New(bs, regs, disc, gvspSvc, counters, streamPort)
	if err := gvcpSvc.Start(); err != nil {
		t.Fatalf("start gvcp: %v", err)
	}
	defer gvcpSvc.Stop()

	controlClient, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen control client: %v", err)
	}
	defer controlClient.Close()

	// Discovery binds the stream destination (spec §4.8.4).
	discoveryReq := []byte{0x42, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01}
	sendAndRecvControl(t, controlClient, discoveryReq)

	// WRITEREG AcquisitionStart=1 starts the burst.
	startReq := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(gvcp.CmdWriteReg), SizeWords: 2, ID: 0x0010}.Marshal(startReq)
	codec.PutU32(startReq, 8, regmap.AddrAcquisitionStart)
	codec.PutU32(startReq, 12, 1)
	resp := sendAndRecvControl(t, controlClient, startReq)
	if resp[0] != codec.PacketKindAck {
		t.Fatalf("WRITEREG acquisition start failed, got kind %#x want ack", resp[0])
	}

	packets := collectBurst(t, streamClient, 57)
	if len(packets) != 57 {
		t.Fatalf("got %d packets want 57 (1 leader + 55 data + 1 trailer)", len(packets))
	}

	if codec.UnmarshalGVSPHeader(packets[0]).Data[0] != 1 {
		t.Fatalf("leader block_id != 1")
	}

	var reassembled []byte
	for _, p := range packets[1 : len(packets)-1] {
		reassembled = append(reassembled, p[codec.GVSPHeaderSize:]...)
	}
	if len(reassembled) != width*height {
		t.Fatalf("got %d reassembled bytes want %d", len(reassembled), width*height)
	}
}

func sendAndRecvControl(t *testing.T, client *net.UDPConn, req []byte) []byte {
	t.Helper()
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: gvcp.Port}
	if _, err := client.WriteToUDP(req, dst); err != nil {
		t.Fatalf("send: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return buf[:n]
}

func collectBurst(t *testing.T, conn *net.UDPConn, want int) [][]byte {
	t.Helper()
	var packets [][]byte
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(packets) < want {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read burst: got %d of %d packets: %v", len(packets), want, err)
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		packets = append(packets, cp)
	}
	return packets
}
