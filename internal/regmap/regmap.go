// Package regmap implements the register map (spec §3, §4.3): the
// address-range dispatcher that binds bootstrap memory, the mapped XML
// feature blob, and the flat feature-register table into one byte- and
// word-addressable space for the control service.
//
// Grounded on internal/orbital/hal/interfaces.go's small-interface style
// (CameraController, PowerController, ...), generalized into a register-cell
// interface backed either by in-memory state or by collaborator
// getter/setter callbacks, the way that package already delegates hardware
// capabilities to small interfaces.
package regmap

import (
	"errors"
	"sync/atomic"

	"github.com/asgard/gvisiond/internal/bootstrap"
)

// Errors returned by the dispatch operations, mirroring spec §4.3's result
// enumeration (InvalidAddress, WriteProtected, BadValue, AccessDenied,
// BadAlignment). A nil error is "Ok".
var (
	ErrInvalidAddress = errors.New("regmap: invalid address")
	ErrWriteProtected = errors.New("regmap: write protected")
	ErrBadValue       = errors.New("regmap: bad value")
	ErrAccessDenied   = errors.New("regmap: access denied")
	ErrBadAlignment   = errors.New("regmap: bad alignment")
)

// Maximum read_bytes length per region (§4.3): 8 KiB inside the XML region,
// 512 B everywhere else. read_bytes enforces this as a hard cap; the control
// service's READ_MEMORY handler clamps requested length to this cap before
// calling read_bytes, so the cap is a backstop against direct callers rather
// than a path exercised in normal GVCP traffic.
const (
	maxReadXML     = 8192
	maxReadDefault = 512
)

const (
	// FeatureBase and FeatureLimit bound the feature-register table's
	// address range (convention: 0x1000..0x10FF, spec §3).
	FeatureBase  = 0x1000
	FeatureLimit = 0x1100

	// XMLBase is the fixed base address the XML feature blob is mapped at
	// (spec §3 convention: 0x10000).
	XMLBase = 0x10000
)

// cell is a single feature register: a read accessor and an optional write
// accessor (nil for statistics-only registers, matching spec §4.3's
// "statistics-ish registers have no writer").
type cell struct {
	read  func() uint32
	write func(uint32) error // nil => not writable
}

// RegisterMap dispatches read/write operations across the bootstrap region,
// the XML region, and the feature-register table, per the order in spec
// §4.3.
type RegisterMap struct {
	bs  *bootstrap.Memory
	xml []byte

	features map[uint32]cell

	// Backing state for the camera feature cells installed by
	// InstallCameraRegisters. Held here (rather
	// than queried fresh from the collaborator on every read) so reads
	// reflect the last value this map accepted even if the collaborator
	// itself only exposes setters.
	pixelFormat     atomic.Uint32
	jpegQuality     atomic.Uint32
	exposureUs      atomic.Uint32
	gainCentiDB     atomic.Uint32
	brightness      atomic.Int32
	contrast        atomic.Int32
	saturation      atomic.Int32
	whiteBalance    atomic.Uint32
	triggerMode     atomic.Uint32
}

// New returns a RegisterMap over bs, serving xml as the read-only blob
// mapped at XMLBase. Feature registers are installed separately via the
// Install* helpers so callers can wire collaborators (camera, streaming,
// stats, discovery) after construction, without this package importing
// theirs.
func New(bs *bootstrap.Memory, xml []byte) *RegisterMap {
	return &RegisterMap{
		bs:       bs,
		xml:      xml,
		features: make(map[uint32]cell),
	}
}

// installReadOnly registers a read-only feature cell at addr.
func (r *RegisterMap) installReadOnly(addr uint32, read func() uint32) {
	r.features[addr] = cell{read: read}
}

// installReadWrite registers a read/write feature cell at addr. write
// should return ErrBadValue for out-of-range values, per spec §4.3.
func (r *RegisterMap) installReadWrite(addr uint32, read func() uint32, write func(uint32) error) {
	r.features[addr] = cell{read: read, write: write}
}

// ReadWord implements read_word(address) -> u32 | InvalidAddress.
func (r *RegisterMap) ReadWord(addr uint32) (uint32, error) {
	if addr >= FeatureBase && addr < FeatureLimit && addr%4 != 0 {
		return 0, ErrBadAlignment
	}

	switch {
	case int(addr)+4 <= bootstrap.Size:
		if addr%4 != 0 {
			return 0, ErrBadAlignment
		}
		return r.bs.ReadU32(int(addr)), nil

	case addr >= XMLBase && addr < XMLBase+uint32(len(r.xml)):
		return r.readXMLWord(addr), nil

	default:
		c, ok := r.features[addr]
		if !ok {
			return 0, ErrInvalidAddress
		}
		return c.read(), nil
	}
}

// WriteWord implements write_word(address, value) -> Ok | InvalidAddress |
// WriteProtected | BadValue.
func (r *RegisterMap) WriteWord(addr, value uint32) error {
	if addr >= FeatureBase && addr < FeatureLimit && addr%4 != 0 {
		return ErrBadAlignment
	}

	switch {
	case int(addr)+4 <= bootstrap.Size:
		if addr%4 != 0 {
			return ErrBadAlignment
		}
		if !bootstrapWordWritable(addr) {
			return ErrWriteProtected
		}
		r.bs.WriteU32(int(addr), value)
		return nil

	case addr >= XMLBase && addr < XMLBase+uint32(len(r.xml)):
		return ErrWriteProtected

	default:
		c, ok := r.features[addr]
		if !ok {
			return ErrInvalidAddress
		}
		if c.write == nil {
			return ErrWriteProtected
		}
		return c.write(value)
	}
}

// ReadBytes implements read_bytes(address, len) -> bytes | InvalidAddress |
// AccessDenied.
func (r *RegisterMap) ReadBytes(addr uint32, n int) ([]byte, error) {
	switch {
	case int(addr) < bootstrap.Size:
		end := int(addr) + n
		if end > bootstrap.Size || n < 0 {
			return nil, ErrInvalidAddress
		}
		if n > maxReadDefault {
			return nil, ErrAccessDenied
		}
		return r.bs.ReadBytes(int(addr), n), nil

	case addr >= XMLBase && addr < XMLBase+uint32(len(r.xml)):
		if n > maxReadXML {
			return nil, ErrAccessDenied
		}
		return r.readXMLBytes(addr, n), nil

	case addr >= FeatureBase && addr < FeatureLimit:
		if n > maxReadDefault {
			return nil, ErrAccessDenied
		}
		return r.readFeatureBytes(addr, n)

	default:
		return nil, ErrInvalidAddress
	}
}

// WriteBytes implements write_bytes(address, bytes) -> Ok | InvalidAddress |
// WriteProtected.
func (r *RegisterMap) WriteBytes(addr uint32, data []byte) error {
	switch {
	case int(addr) < bootstrap.Size:
		end := int(addr) + len(data)
		if end > bootstrap.Size {
			return ErrInvalidAddress
		}
		if !bootstrapRangeWritable(addr, len(data)) {
			return ErrWriteProtected
		}
		r.bs.WriteBytes(int(addr), data)
		return nil

	case addr >= XMLBase && addr < XMLBase+uint32(len(r.xml)):
		return ErrWriteProtected

	case addr >= FeatureBase && addr < FeatureLimit:
		return r.writeFeatureBytes(addr, data)

	default:
		return ErrInvalidAddress
	}
}

// MaxReadLength returns the permitted read_bytes cap for addr's region,
// for the control service to clamp READ_MEMORY requests against before
// calling ReadBytes (spec §4.5 "Clamp length by region rule (§4.3)").
func (r *RegisterMap) MaxReadLength(addr uint32) int {
	if addr >= XMLBase && addr < XMLBase+uint32(len(r.xml)) {
		return maxReadXML
	}
	return maxReadDefault
}

func (r *RegisterMap) readXMLWord(addr uint32) uint32 {
	b := r.readXMLBytes(addr, 4)
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// readXMLBytes clamps to the blob's remaining length and zero-pads the
// tail, per spec §4.3's XML-region read rule.
func (r *RegisterMap) readXMLBytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	off := int(addr - XMLBase)
	avail := len(r.xml) - off
	if avail > n {
		avail = n
	}
	if avail > 0 {
		copy(out, r.xml[off:off+avail])
	}
	return out
}

func (r *RegisterMap) readFeatureBytes(addr uint32, n int) ([]byte, error) {
	if n%4 != 0 {
		return nil, ErrInvalidAddress
	}
	out := make([]byte, n)
	for i := 0; i < n; i += 4 {
		a := addr + uint32(i)
		if a%4 != 0 || a < FeatureBase || a >= FeatureLimit {
			return nil, ErrInvalidAddress
		}
		v, err := r.ReadWord(a)
		if err != nil {
			return nil, err
		}
		put4(out[i:], v)
	}
	return out, nil
}

func (r *RegisterMap) writeFeatureBytes(addr uint32, data []byte) error {
	for i := 0; i+4 <= len(data); i += 4 {
		a := addr + uint32(i)
		v := get4(data[i:])
		if err := r.WriteWord(a, v); err != nil {
			return err
		}
	}
	return nil
}

func put4(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func get4(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// bootstrapWordWritable reports whether addr (word-aligned, within the
// bootstrap region) is one of the three writable cells spec §4.3
// enumerates: the user-defined-name window, control-channel-privilege, and
// the privilege key.
func bootstrapWordWritable(addr uint32) bool {
	if addr == bootstrap.OffControlChannelPriv || addr == bootstrap.OffPrivilegeKey {
		return true
	}
	return addr >= bootstrap.OffUserDefinedName && addr < bootstrap.OffUserDefinedName+16
}

// bootstrapRangeWritable reports whether [addr, addr+n) lies entirely
// within a writable bootstrap cell.
func bootstrapRangeWritable(addr uint32, n int) bool {
	end := addr + uint32(n)
	if addr >= bootstrap.OffUserDefinedName && end <= bootstrap.OffUserDefinedName+16 {
		return true
	}
	if addr == bootstrap.OffControlChannelPriv && n == 4 {
		return true
	}
	if addr == bootstrap.OffPrivilegeKey && n == 4 {
		return true
	}
	return false
}
