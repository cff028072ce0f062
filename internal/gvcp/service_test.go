package gvcp

import (
	"net"
	"testing"
	"time"

	"github.com/asgard/gvisiond/internal/bootstrap"
	"github.com/asgard/gvisiond/internal/codec"
	"github.com/asgard/gvisiond/internal/discovery"
	"github.com/asgard/gvisiond/internal/frame"
	"github.com/asgard/gvisiond/internal/hal"
	"github.com/asgard/gvisiond/internal/regmap"
	"github.com/asgard/gvisiond/internal/stats"
)

type fakeStreamBinder struct {
	active     bool
	boundIP    net.IP
	resendErr  error
	lastResend uint32
}

func (f *fakeStreamBinder) SetClient(ip net.IP, _ int) { f.boundIP = ip }
func (f *fakeStreamBinder) NoteActivity()              {}
func (f *fakeStreamBinder) Active() bool               { return f.active }
func (f *fakeStreamBinder) Resend(blockID uint32) error {
	f.lastResend = blockID
	return f.resendErr
}

func testLink() bootstrap.LinkInfo {
	return bootstrap.LinkInfo{
		MAC:  [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IPv4: [4]byte{10, 0, 0, 5},
	}
}

func newTestSetup(t *testing.T) (*Service, *net.UDPConn, *fakeStreamBinder) {
	t.Helper()

	bs := bootstrap.New()
	bs.Init(testLink(), bootstrap.DeviceIdentity{
		Manufacturer: "Asgard", Model: "gvisiond", Version: "1.0", Serial: "SN1",
	})
	regs := regmap.New(bs, nil)
	cam := hal.NewMockCamera(320, 240)
	regs.InstallCameraRegisters(cam, hal.DefaultSnapshot(), 320, 240)

	disc := discovery.New(testLink())
	stream := &fakeStreamBinder{}
	counters := stats.New()

	svc := New(bs, regs, disc, stream, counters, 50010)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Stop)

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return svc, client, stream
}

func sendAndRecv(t *testing.T, client *net.UDPConn, req []byte) []byte {
	t.Helper()
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: Port}
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

// TestScenarioS1DiscoveryEcho matches spec scenario S1.
func TestScenarioS1DiscoveryEcho(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := []byte{0x42, 0x01, 0x00, 0x02, 0x00, 0x00, 0x12, 0x34}
	resp := sendAndRecv(t, client, req)

	wantHeader := []byte{0x00, 0x00, 0x00, 0x03, 0x00, 0x3E, 0x12, 0x34}
	if string(resp[:8]) != string(wantHeader) {
		t.Fatalf("got header % x want % x", resp[:8], wantHeader)
	}
	if len(resp) != 8+248 {
		t.Fatalf("got len %d want %d", len(resp), 8+248)
	}
}

// TestScenarioS2ReadRegMono8 matches spec scenario S2.
func TestScenarioS2ReadRegMono8(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := make([]byte, 12)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdReadReg), SizeWords: 1, ID: 0x0001}.Marshal(req)
	codec.PutU32(req, 8, 0x0000100C)

	resp := sendAndRecv(t, client, req)
	if len(resp) != 12 {
		t.Fatalf("got len %d want 12", len(resp))
	}
	want := []byte{0x01, 0x08, 0x00, 0x01}
	if string(resp[8:12]) != string(want) {
		t.Fatalf("got % x want % x", resp[8:12], want)
	}
}

// TestScenarioS3BadAlignment matches spec scenario S3.
func TestScenarioS3BadAlignment(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := make([]byte, 12)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdReadReg), SizeWords: 1, ID: 0x0002}.Marshal(req)
	codec.PutU32(req, 8, 0x00001001)

	resp := sendAndRecv(t, client, req)
	wantHeader := []byte{0x80, 0x00, 0x00, 0x80, 0x00, 0x01, 0x00, 0x02}
	if string(resp[:8]) != string(wantHeader) {
		t.Fatalf("got header % x want % x", resp[:8], wantHeader)
	}
	if codec.U16(resp, 8) != 0x8005 {
		t.Fatalf("got status %#x want 0x8005", codec.U16(resp, 8))
	}
}

// TestScenarioS4WriteReadOnlyXML matches spec scenario S4.
func TestScenarioS4WriteReadOnlyXML(t *testing.T) {
	bs := bootstrap.New()
	bs.Init(testLink(), bootstrap.DeviceIdentity{Manufacturer: "Asgard"})
	regs := regmap.New(bs, []byte("<xml>feature-tree</xml>"))
	disc := discovery.New(testLink())
	stream := &fakeStreamBinder{}
	counters := stats.New()

	svc := New(bs, regs, disc, stream, counters, 50010)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer client.Close()

	req := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdWriteMemory), SizeWords: 2, ID: 0x0003}.Marshal(req)
	codec.PutU32(req, 8, 0x00010000)
	codec.PutU32(req, 12, 0xDEADBEEF)

	resp := sendAndRecv(t, client, req)
	if codec.U16(resp, 8) != 0x8004 {
		t.Fatalf("got status %#x want 0x8004", codec.U16(resp, 8))
	}
}

// TestScenarioS6ResendMissingBlock matches spec scenario S6.
func TestScenarioS6ResendMissingBlock(t *testing.T) {
	_, client, stream := newTestSetup(t)
	stream.active = true
	stream.resendErr = frame.ErrNotFound

	req := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdPacketResend), SizeWords: 2, ID: 0x0004}.Marshal(req)
	codec.PutU32(req, 8, 0)
	codec.PutU32(req, 12, 999999)

	resp := sendAndRecv(t, client, req)
	if resp[0] != codec.PacketKindError {
		t.Fatalf("got kind %#x want error", resp[0])
	}
	if codec.U16(resp, 8) != 0x8002 {
		t.Fatalf("got status %#x want 0x8002 (INVALID_PARAMETER)", codec.U16(resp, 8))
	}
	if stream.lastResend != 999999 {
		t.Fatalf("got resend block %d want 999999", stream.lastResend)
	}
}

func TestPacketResendRejectsNonZeroStreamIndex(t *testing.T) {
	_, client, stream := newTestSetup(t)
	stream.active = true

	req := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdPacketResend), SizeWords: 2, ID: 0x0005}.Marshal(req)
	codec.PutU32(req, 8, 1)
	codec.PutU32(req, 12, 1)

	resp := sendAndRecv(t, client, req)
	if codec.U16(resp, 8) != 0x8002 {
		t.Fatalf("got status %#x want 0x8002", codec.U16(resp, 8))
	}
}

func TestPacketResendWhileNotStreamingIsWrongConfig(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdPacketResend), SizeWords: 2, ID: 0x0006}.Marshal(req)
	codec.PutU32(req, 8, 0)
	codec.PutU32(req, 12, 1)

	resp := sendAndRecv(t, client, req)
	if codec.U16(resp, 8) != 0x800F {
		t.Fatalf("got status %#x want 0x800F (WRONG_CONFIG)", codec.U16(resp, 8))
	}
}

func TestMalformedHeaderSizeMismatchYieldsInvalidHeaderNACK(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := make([]byte, 9)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdReadReg), SizeWords: 1, ID: 0x0007}.Marshal(req)

	resp := sendAndRecv(t, client, req)
	if codec.U16(resp, 8) != 0x800E {
		t.Fatalf("got status %#x want 0x800E (INVALID_HEADER)", codec.U16(resp, 8))
	}
}

// TestReadMemoryUnalignedLengthPadsACK exercises READ_MEMORY with a
// client-supplied length that isn't a multiple of 4 bytes: the 4-byte
// address prefix plus 5 bytes of manufacturer-string data is a 9-byte
// payload, which must come back as a word-padded 12-byte ACK so
// size_words*4+8 matches the actual datagram length.
func TestReadMemoryUnalignedLengthPadsACK(t *testing.T) {
	_, client, _ := newTestSetup(t)

	req := make([]byte, 16)
	codec.GVCPHeader{Kind: codec.PacketKindCmd, Command: uint16(CmdReadMemory), SizeWords: 2, ID: 0x0008}.Marshal(req)
	codec.PutU32(req, 8, bootstrap.OffManufacturer)
	codec.PutU32(req, 12, 5)

	resp := sendAndRecv(t, client, req)
	if resp[0] != codec.PacketKindAck {
		t.Fatalf("got kind %#x want ack", resp[0])
	}
	wantWords := int(codec.U16(resp, 4))
	if got := 8 + wantWords*4; got != len(resp) {
		t.Fatalf("size_words*4+8 = %d, want actual datagram length %d", got, len(resp))
	}
	if len(resp) != 20 {
		t.Fatalf("got len %d want 20 (8 header + 12 padded payload)", len(resp))
	}
	if string(resp[12:17]) != "Asgar" {
		t.Fatalf("got data %q want %q", resp[12:17], "Asgar")
	}
	if resp[17] != 0 || resp[18] != 0 || resp[19] != 0 {
		t.Fatalf("padding bytes not zeroed: % x", resp[17:20])
	}
}

func TestDiscoveryBindsClientAsStreamDestination(t *testing.T) {
	_, client, stream := newTestSetup(t)

	req := []byte{0x42, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x01}
	sendAndRecv(t, client, req)

	if stream.boundIP == nil || !stream.boundIP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("got bound ip %v want 127.0.0.1", stream.boundIP)
	}
}
