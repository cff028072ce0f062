package codec

// GVCPHeaderSize is the fixed size, in bytes, of a control-protocol header.
const GVCPHeaderSize = 8

// Packet kinds carried in GVCPHeader.Kind.
const (
	PacketKindCmd   uint8 = 0x42
	PacketKindAck   uint8 = 0x00
	PacketKindError uint8 = 0x80
)

// GVCPHeader is the eight-byte control-protocol header (§3): packet kind,
// flags, command, payload size in 32-bit words, and a request/response id.
type GVCPHeader struct {
	Kind      uint8
	Flags     uint8
	Command   uint16
	SizeWords uint16
	ID        uint16
}

// Marshal packs h into the first GVCPHeaderSize bytes of buf.
func (h GVCPHeader) Marshal(buf []byte) {
	buf[0] = h.Kind
	buf[1] = h.Flags
	PutU16(buf, 2, h.Command)
	PutU16(buf, 4, h.SizeWords)
	PutU16(buf, 6, h.ID)
}

// UnmarshalGVCPHeader reads a header from the first GVCPHeaderSize bytes of buf.
// Callers must ensure len(buf) >= GVCPHeaderSize.
func UnmarshalGVCPHeader(buf []byte) GVCPHeader {
	return GVCPHeader{
		Kind:      buf[0],
		Flags:     buf[1],
		Command:   U16(buf, 2),
		SizeWords: U16(buf, 4),
		ID:        U16(buf, 6),
	}
}

// GVSPHeaderSize is the fixed size, in bytes, of a streaming-protocol header:
// kind(1) + flags(1) + packet_id(2) + data[2]*u32(8) = 12. (The field list is
// authoritative; a prose aside elsewhere undercounts it.)
const GVSPHeaderSize = 12

// GVSPHeader is the GVSPHeaderSize-byte streaming-protocol header (§3). For leader and
// trailer packets Data[0] carries the block id; for data packets Data[1]
// additionally carries the byte offset of the chunk within the frame.
type GVSPHeader struct {
	Kind     uint8
	Flags    uint8
	PacketID uint16
	Data     [2]uint32
}

// Marshal packs h into the first GVSPHeaderSize bytes of buf.
func (h GVSPHeader) Marshal(buf []byte) {
	buf[0] = h.Kind
	buf[1] = h.Flags
	PutU16(buf, 2, h.PacketID)
	PutU32(buf, 4, h.Data[0])
	PutU32(buf, 8, h.Data[1])
}

// UnmarshalGVSPHeader reads a header from the first GVSPHeaderSize bytes of buf.
func UnmarshalGVSPHeader(buf []byte) GVSPHeader {
	return GVSPHeader{
		Kind:     buf[0],
		Flags:    buf[1],
		PacketID: U16(buf, 2),
		Data:     [2]uint32{U32(buf, 4), U32(buf, 8)},
	}
}
