package codec

// Payload types carried in the leader/trailer PayloadType field.
const (
	PayloadTypeImage     uint16 = 0x0001
	PayloadTypeChunkData uint16 = 0x4000
)

// LeaderPayloadSize is the fixed wire size of a Leader payload.
const LeaderPayloadSize = 2 + 2 + 8 + 4 + 4 + 4 + 4 + 4 + 2 + 2 // 36 bytes

// Leader is the payload of a GVSP leader packet (§3).
type Leader struct {
	Flags        uint16
	PayloadType  uint16
	TimestampHi  uint32
	TimestampLo  uint32
	PixelFormat  uint32
	SizeX        uint32
	SizeY        uint32
	OffsetX      uint32
	OffsetY      uint32
	PaddingX     uint16
	PaddingY     uint16
}

// Marshal packs l into the first LeaderPayloadSize bytes of buf.
func (l Leader) Marshal(buf []byte) {
	PutU16(buf, 0, l.Flags)
	PutU16(buf, 2, l.PayloadType)
	PutU32(buf, 4, l.TimestampHi)
	PutU32(buf, 8, l.TimestampLo)
	PutU32(buf, 12, l.PixelFormat)
	PutU32(buf, 16, l.SizeX)
	PutU32(buf, 20, l.SizeY)
	PutU32(buf, 24, l.OffsetX)
	PutU32(buf, 28, l.OffsetY)
	PutU16(buf, 32, l.PaddingX)
	PutU16(buf, 34, l.PaddingY)
}

// UnmarshalLeader reads a Leader payload from buf.
func UnmarshalLeader(buf []byte) Leader {
	return Leader{
		Flags:       U16(buf, 0),
		PayloadType: U16(buf, 2),
		TimestampHi: U32(buf, 4),
		TimestampLo: U32(buf, 8),
		PixelFormat: U32(buf, 12),
		SizeX:       U32(buf, 16),
		SizeY:       U32(buf, 20),
		OffsetX:     U32(buf, 24),
		OffsetY:     U32(buf, 28),
		PaddingX:    U16(buf, 32),
		PaddingY:    U16(buf, 34),
	}
}

// SetTimestamp packs a 64-bit microsecond timestamp into TimestampHi/Lo.
func (l *Leader) SetTimestamp(us uint64) {
	l.TimestampHi = uint32(us >> 32)
	l.TimestampLo = uint32(us)
}

// Timestamp reassembles the 64-bit microsecond timestamp.
func (l Leader) Timestamp() uint64 {
	return uint64(l.TimestampHi)<<32 | uint64(l.TimestampLo)
}

// TrailerPayloadSize is the fixed wire size of a Trailer payload.
const TrailerPayloadSize = 2 + 2 + 4 // 8 bytes

// Trailer is the payload of a GVSP trailer packet (§3).
type Trailer struct {
	Reserved    uint16
	PayloadType uint16
	SizeY       uint32
}

// Marshal packs t into the first TrailerPayloadSize bytes of buf.
func (t Trailer) Marshal(buf []byte) {
	PutU16(buf, 0, t.Reserved)
	PutU16(buf, 2, t.PayloadType)
	PutU32(buf, 4, t.SizeY)
}

// UnmarshalTrailer reads a Trailer payload from buf.
func UnmarshalTrailer(buf []byte) Trailer {
	return Trailer{
		Reserved:    U16(buf, 0),
		PayloadType: U16(buf, 2),
		SizeY:       U32(buf, 4),
	}
}
