package gvcp

import (
	"bytes"
	"testing"

	"github.com/asgard/gvisiond/internal/codec"
)

func TestValidateDiscovery(t *testing.T) {
	// S1: ack-required, DISCOVERY, size 0, id 0x1234.
	buf := []byte{0x42, 0x01, 0x00, 0x02, 0x00, 0x00, 0x12, 0x34}
	req, status, err := Validate(buf)
	if err != nil {
		t.Fatalf("unexpected reject: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("unexpected status: %v", status)
	}
	if Command(req.Header.Command) != CmdDiscovery {
		t.Fatalf("got command %x want discovery", req.Header.Command)
	}
	if req.Header.ID != 0x1234 {
		t.Fatalf("got id %x want 0x1234", req.Header.ID)
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	buf := []byte{0x42, 0x00, 0x00, 0x80, 0x00, 0x01, 0x00, 0x01} // claims 1 word, carries 0
	req, status, err := Validate(buf)
	if err != nil {
		t.Fatalf("should not be rejected outright: %v", err)
	}
	if status != StatusInvalidHeader {
		t.Fatalf("got %v want StatusInvalidHeader", status)
	}
	_ = req
}

func TestValidateTooShort(t *testing.T) {
	_, _, err := Validate([]byte{0x42, 0x00})
	if err != ErrRejected {
		t.Fatalf("got %v want ErrRejected", err)
	}
}

func TestBuildACKDiscovery(t *testing.T) {
	payload := make([]byte, 248)
	buf := make([]byte, 8+len(payload))
	n := BuildACK(buf, CmdDiscovery, 0x1234, payload)

	want := []byte{0x00, 0x00, 0x00, 0x03, 0x00, 0x3E, 0x12, 0x34}
	if !bytes.Equal(buf[:8], want) {
		t.Fatalf("header = % x, want % x", buf[:8], want)
	}
	if n != len(buf) {
		t.Fatalf("wrote %d bytes, want %d", n, len(buf))
	}
}

func TestBuildACKPadsUnalignedPayload(t *testing.T) {
	// 9-byte payload (e.g. a 4-byte address + 5 bytes of READ_MEMORY data)
	// must be padded to 12 bytes so size_words*4+8 matches the actual
	// datagram length.
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x01, 0x02, 0x03, 0x04, 0x05}
	buf := make([]byte, 8+PaddedACKLen(len(payload)))
	n := BuildACK(buf, CmdReadMemory, 0x0007, payload)

	if n != len(buf) {
		t.Fatalf("wrote %d bytes, want %d", n, len(buf))
	}
	wantWords := 3
	if got := int(codec.U16(buf, 4)); got != wantWords {
		t.Fatalf("size_words = %d, want %d", got, wantWords)
	}
	if got := 8 + wantWords*4; got != n {
		t.Fatalf("size_words*4+8 = %d, want actual datagram length %d", got, n)
	}
	if !bytes.Equal(buf[8:8+len(payload)], payload) {
		t.Fatalf("payload bytes = % x, want % x", buf[8:8+len(payload)], payload)
	}
	if buf[8+len(payload)] != 0 || buf[len(buf)-1] != 0 {
		t.Fatalf("padding bytes not zeroed: % x", buf[8+len(payload):])
	}
}

func TestBuildNACKBadAlignment(t *testing.T) {
	buf := make([]byte, 12)
	n := BuildNACK(buf, CmdReadReg, 0x0002, StatusBadAlignment)
	if n != 12 {
		t.Fatalf("wrote %d bytes, want 12", n)
	}
	if buf[0] != 0x80 {
		t.Fatalf("kind = %x want ERROR", buf[0])
	}
	if buf[6] != 0x00 || buf[7] != 0x02 {
		t.Fatalf("id mismatch: % x", buf[6:8])
	}
	if buf[8] != 0x80 || buf[9] != 0x05 {
		t.Fatalf("status mismatch: % x", buf[8:10])
	}
}
