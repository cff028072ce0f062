// Package gvcp implements the GVCP control-protocol framing: header
// validation, command recognition, and ACK/NACK response construction
// (spec §4.4). The UDP receive loop that uses this framing lives in
// service.go.
package gvcp

import (
	"fmt"

	"github.com/asgard/gvisiond/internal/codec"
)

// Command is a recognized GVCP command, in host byte order.
type Command uint16

const (
	CmdDiscovery    Command = 0x0002
	CmdReadMemory   Command = 0x0084
	CmdWriteMemory  Command = 0x0086
	CmdReadReg      Command = 0x0080
	CmdWriteReg     Command = 0x0082
	CmdPacketResend Command = 0x0040

	// ackBit, OR'd into a command to form its ACK counterpart.
	ackBit Command = 0x0001

	// CmdAckDiscovery is the command byte used on discovery broadcast and
	// solicited-discovery-reply packets.
	CmdAckDiscovery = CmdDiscovery | ackBit
)

// StatusCode is the 16-bit error code carried in a NACK payload (§4.4).
type StatusCode uint16

const (
	StatusSuccess           StatusCode = 0x0000
	StatusNotImplemented    StatusCode = 0x8001
	StatusInvalidParameter  StatusCode = 0x8002
	StatusInvalidAddress    StatusCode = 0x8003
	StatusWriteProtect      StatusCode = 0x8004
	StatusBadAlignment      StatusCode = 0x8005
	StatusAccessDenied      StatusCode = 0x8006
	StatusBusy              StatusCode = 0x8007
	StatusMsgTimeout        StatusCode = 0x800B
	StatusInvalidHeader     StatusCode = 0x800E
	StatusWrongConfig       StatusCode = 0x800F
)

// ErrRejected is returned by Validate when the datagram is too malformed to
// even produce a NACK (the caller must drop it silently).
var ErrRejected = fmt.Errorf("gvcp: packet rejected before header could be parsed")

// Request is a command packet's parsed header and payload, as returned by
// Validate.
type Request struct {
	Header  codec.GVCPHeader
	Payload []byte
}

// Validate checks framing per §4.4: minimum length, packet kind, and the
// size_words*4+8 == len(buf) invariant. It returns the parsed header and a
// NACK status when the header parses but the size field disagrees, or
// ErrRejected when the datagram is too short to carry a header at all.
func Validate(buf []byte) (Request, StatusCode, error) {
	if len(buf) < codec.GVCPHeaderSize {
		return Request{}, 0, ErrRejected
	}

	h := codec.UnmarshalGVCPHeader(buf)
	if h.Kind != codec.PacketKindCmd {
		return Request{}, 0, ErrRejected
	}

	want := codec.GVCPHeaderSize + int(h.SizeWords)*4
	if len(buf) != want {
		return Request{Header: h}, StatusInvalidHeader, nil
	}

	return Request{Header: h, Payload: buf[codec.GVCPHeaderSize:]}, StatusSuccess, nil
}

// BuildACK writes an ACK response for cmd into buf (which must be at least
// GVCPHeaderSize+PaddedACKLen(len(payload)) bytes) and returns the number of
// bytes written. payload is zero-padded to a 4-byte boundary so the declared
// size_words*4+8 always equals the actual datagram length (spec.md:212's
// framing invariant, enforced here on the response side too).
func BuildACK(buf []byte, cmd Command, id uint16, payload []byte) int {
	words := (len(payload) + 3) / 4
	padded := words * 4
	h := codec.GVCPHeader{
		Kind:      codec.PacketKindAck,
		Flags:     0,
		Command:   uint16(cmd) | uint16(ackBit),
		SizeWords: uint16(words),
		ID:        id,
	}
	h.Marshal(buf)
	n := copy(buf[codec.GVCPHeaderSize:], payload)
	for ; n < padded; n++ {
		buf[codec.GVCPHeaderSize+n] = 0
	}
	return codec.GVCPHeaderSize + padded
}

// PaddedACKLen returns the number of payload bytes BuildACK actually writes
// for a payload of length n, rounded up to a 4-byte word boundary. Callers
// must size their buffer to GVCPHeaderSize+PaddedACKLen(len(payload)).
func PaddedACKLen(n int) int {
	return ((n + 3) / 4) * 4
}

// BuildNACK writes a NACK response into buf and returns the number of bytes
// written. Per §4.4 the payload is a single zero-padded word carrying the
// 16-bit status code.
func BuildNACK(buf []byte, cmd Command, id uint16, status StatusCode) int {
	h := codec.GVCPHeader{
		Kind:      codec.PacketKindError,
		Flags:     0,
		Command:   uint16(cmd),
		SizeWords: 1,
		ID:        id,
	}
	h.Marshal(buf)
	codec.PutU16(buf, codec.GVCPHeaderSize, uint16(status))
	buf[codec.GVCPHeaderSize+2] = 0
	buf[codec.GVCPHeaderSize+3] = 0
	return codec.GVCPHeaderSize + 4
}
