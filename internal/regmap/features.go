package regmap

import (
	"sync/atomic"

	"github.com/asgard/gvisiond/internal/hal"
)

// Feature register addresses (spec §3 convention: 0x1000..0x10FF), grouped
// as the spec describes: acquisition control, pixel format & JPEG quality,
// stream pacing, sensor parameters, statistics, and discovery control.
const (
	AddrAcquisitionStart  = 0x1000
	AddrAcquisitionStop   = 0x1004
	AddrJPEGQuality       = 0x1008
	AddrPixelFormat       = 0x100C // spec §8 scenario S2 fixes PixelFormat at this address
	AddrPacketDelayUs     = 0x1010
	AddrFrameRateFps      = 0x1014
	AddrPacketSizeBytes   = 0x1018
	AddrPayloadSizeBytes  = 0x101C
	AddrStreamStatusBits  = 0x1020
	AddrExposureUs        = 0x1024
	AddrGainCentiDB       = 0x1028
	AddrBrightness        = 0x102C
	AddrContrast          = 0x1030
	AddrSaturation        = 0x1034
	AddrWhiteBalanceMode  = 0x1038
	AddrTriggerMode       = 0x103C
	AddrStatCtrlPktsRx    = 0x1040
	AddrStatCtrlPktsTx    = 0x1044
	AddrStatStreamPktsTx  = 0x1048
	AddrStatFramesCapture = 0x104C
	AddrStatFramesDropped = 0x1050
	AddrStatResends       = 0x1054
	AddrDiscoveryEnable   = 0x1058
	AddrSensorWidth       = 0x105C
	AddrSensorHeight      = 0x1060
)

// Value range limits enforced by the writers below (spec §4.3).
const (
	minFrameRateFps = 1
	maxFrameRateFps = 30
	minPacketSize   = 512
	maxJPEGQuality  = 63
	minSignedRange  = -2
	maxSignedRange  = 2
	maxGainCentiDB  = 3000
)

// StreamController is the streaming-service collaborator backing the
// acquisition/pacing/status feature registers. Implemented by
// internal/gvsp.Service; declared here (rather than imported) so regmap
// never depends on gvsp, matching the duck-typed cell design spec §9
// calls for.
type StreamController interface {
	StartAcquisition() error
	StopAcquisition() error
	Active() bool
	SetPacketDelayUs(us uint32) error
	SetFrameRateFps(fps uint32) error
	SetPacketSizeBytes(n uint32) error
	PacketDelayUs() uint32
	FrameRateFps() uint32
	PacketSizeBytes() uint32
	PayloadSizeBytes() uint32
	StatusBits() uint32
}

// StatsProvider is the statistics collaborator backing the read-only
// counter registers. Implemented by internal/stats.Counters.
type StatsProvider interface {
	ControlPacketsRx() uint32
	ControlPacketsTx() uint32
	StreamPacketsTx() uint32
	FramesCaptured() uint32
	FramesDropped() uint32
	ResendRequests() uint32
}

// InstallCameraRegisters wires the sensor-parameter and pixel-format/JPEG
// registers to cam, seeded from initial (typically the snapshot restored
// from the settings store at boot), and the fixed sensor-dimension
// registers to the given width/height.
func (r *RegisterMap) InstallCameraRegisters(cam hal.Camera, initial hal.Snapshot, width, height uint32) {
	r.pixelFormat.Store(uint32(initial.PixelFormat))
	r.jpegQuality.Store(uint32(initial.JPEGQuality))
	r.exposureUs.Store(initial.ExposureUs)
	r.gainCentiDB.Store(uint32(initial.Gain) * 100)
	r.brightness.Store(initial.Brightness)
	r.contrast.Store(initial.Contrast)
	r.saturation.Store(initial.Saturation)
	r.whiteBalance.Store(uint32(initial.WBMode))
	r.triggerMode.Store(uint32(initial.TriggerMode))

	r.installReadWrite(AddrPixelFormat,
		func() uint32 { return r.pixelFormat.Load() },
		func(v uint32) error {
			if err := cam.SetPixelFormat(hal.PixelFormat(v)); err != nil {
				return ErrBadValue
			}
			r.pixelFormat.Store(v)
			return nil
		})

	r.installReadWrite(AddrJPEGQuality,
		func() uint32 { return r.jpegQuality.Load() },
		func(v uint32) error {
			if v > maxJPEGQuality {
				return ErrBadValue
			}
			if err := cam.SetJPEGQuality(int(v)); err != nil {
				return ErrBadValue
			}
			r.jpegQuality.Store(v)
			return nil
		})

	r.installReadWrite(AddrExposureUs,
		func() uint32 { return r.exposureUs.Load() },
		func(v uint32) error {
			if err := cam.SetExposureMicros(int(v)); err != nil {
				return ErrBadValue
			}
			r.exposureUs.Store(v)
			return nil
		})

	r.installReadWrite(AddrGainCentiDB,
		func() uint32 { return r.gainCentiDB.Load() },
		func(v uint32) error {
			if v > maxGainCentiDB {
				return ErrBadValue
			}
			if err := cam.SetGain(float64(v) / 100); err != nil {
				return ErrBadValue
			}
			r.gainCentiDB.Store(v)
			return nil
		})

	brightnessRead, brightnessWrite := signedCell(&r.brightness, minSignedRange, maxSignedRange, func(v int32) error { return cam.SetBrightness(int(v)) })
	r.installReadWrite(AddrBrightness, brightnessRead, brightnessWrite)

	contrastRead, contrastWrite := signedCell(&r.contrast, minSignedRange, maxSignedRange, func(v int32) error { return cam.SetContrast(int(v)) })
	r.installReadWrite(AddrContrast, contrastRead, contrastWrite)

	saturationRead, saturationWrite := signedCell(&r.saturation, minSignedRange, maxSignedRange, func(v int32) error { return cam.SetSaturation(int(v)) })
	r.installReadWrite(AddrSaturation, saturationRead, saturationWrite)

	r.installReadWrite(AddrWhiteBalanceMode,
		func() uint32 { return r.whiteBalance.Load() },
		func(v uint32) error {
			if v != uint32(hal.WhiteBalanceOff) && v != uint32(hal.WhiteBalanceAuto) {
				return ErrBadValue
			}
			if err := cam.SetWhiteBalanceMode(hal.WhiteBalanceMode(v)); err != nil {
				return ErrBadValue
			}
			r.whiteBalance.Store(v)
			return nil
		})

	r.installReadWrite(AddrTriggerMode,
		func() uint32 { return r.triggerMode.Load() },
		func(v uint32) error {
			if v > uint32(hal.TriggerSoftware) {
				return ErrBadValue
			}
			if err := cam.SetTriggerMode(hal.TriggerMode(v)); err != nil {
				return ErrBadValue
			}
			r.triggerMode.Store(v)
			return nil
		})

	r.installReadOnly(AddrSensorWidth, func() uint32 { return width })
	r.installReadOnly(AddrSensorHeight, func() uint32 { return height })
}

// CameraSnapshot reconstructs the persistable sensor-settings snapshot from
// the cached feature-cell state installed by InstallCameraRegisters, for
// cmd/gvisiond to hand to hal.SettingsStore.Save on shutdown.
func (r *RegisterMap) CameraSnapshot() hal.Snapshot {
	return hal.Snapshot{
		ExposureUs:  r.exposureUs.Load(),
		Gain:        int32(r.gainCentiDB.Load() / 100),
		Brightness:  r.brightness.Load(),
		Contrast:    r.contrast.Load(),
		Saturation:  r.saturation.Load(),
		WBMode:      int32(r.whiteBalance.Load()),
		TriggerMode: int32(r.triggerMode.Load()),
		JPEGQuality: int32(r.jpegQuality.Load()),
		PixelFormat: int32(r.pixelFormat.Load()),
	}
}

// InstallStreamRegisters wires the acquisition-control and stream-pacing
// registers to sc.
func (r *RegisterMap) InstallStreamRegisters(sc StreamController) {
	r.installReadWrite(AddrAcquisitionStart,
		func() uint32 { return boolU32(sc.Active()) },
		func(v uint32) error {
			if v == 0 {
				return nil
			}
			return sc.StartAcquisition()
		})

	r.installReadWrite(AddrAcquisitionStop,
		func() uint32 { return boolU32(!sc.Active()) },
		func(v uint32) error {
			if v == 0 {
				return nil
			}
			return sc.StopAcquisition()
		})

	r.installReadWrite(AddrPacketDelayUs,
		sc.PacketDelayUs,
		func(v uint32) error {
			if err := sc.SetPacketDelayUs(v); err != nil {
				return ErrBadValue
			}
			return nil
		})

	r.installReadWrite(AddrFrameRateFps,
		sc.FrameRateFps,
		func(v uint32) error {
			if v < minFrameRateFps || v > maxFrameRateFps {
				return ErrBadValue
			}
			if err := sc.SetFrameRateFps(v); err != nil {
				return ErrBadValue
			}
			return nil
		})

	r.installReadWrite(AddrPacketSizeBytes,
		sc.PacketSizeBytes,
		func(v uint32) error {
			if v < minPacketSize {
				return ErrBadValue
			}
			if err := sc.SetPacketSizeBytes(v); err != nil {
				return ErrBadValue
			}
			return nil
		})

	r.installReadOnly(AddrPayloadSizeBytes, sc.PayloadSizeBytes)
	r.installReadOnly(AddrStreamStatusBits, sc.StatusBits)
}

// InstallStatsRegisters wires the read-only counter registers to sp.
func (r *RegisterMap) InstallStatsRegisters(sp StatsProvider) {
	r.installReadOnly(AddrStatCtrlPktsRx, sp.ControlPacketsRx)
	r.installReadOnly(AddrStatCtrlPktsTx, sp.ControlPacketsTx)
	r.installReadOnly(AddrStatStreamPktsTx, sp.StreamPacketsTx)
	r.installReadOnly(AddrStatFramesCapture, sp.FramesCaptured)
	r.installReadOnly(AddrStatFramesDropped, sp.FramesDropped)
	r.installReadOnly(AddrStatResends, sp.ResendRequests)
}

// DiscoveryController is the discovery-broadcast collaborator backing the
// discovery-enable register (spec §4.6). Implemented by
// internal/discovery.Service; declared here rather than imported so regmap
// never depends on internal/discovery (discovery reads this same register's
// effect through its own Enabled()).
type DiscoveryController interface {
	Enabled() bool
	SetEnabled(bool)
}

// InstallDiscoveryRegister wires the discovery-broadcast-enable register to
// dc.
func (r *RegisterMap) InstallDiscoveryRegister(dc DiscoveryController) {
	r.installReadWrite(AddrDiscoveryEnable,
		func() uint32 { return boolU32(dc.Enabled()) },
		func(v uint32) error {
			if v > 1 {
				return ErrBadValue
			}
			dc.SetEnabled(v != 0)
			return nil
		})
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func signedCell(v *atomic.Int32, min, max int32, apply func(int32) error) (func() uint32, func(uint32) error) {
	read := func() uint32 { return uint32(v.Load()) }
	write := func(raw uint32) error {
		sv := int32(raw)
		if sv < min || sv > max {
			return ErrBadValue
		}
		if err := apply(sv); err != nil {
			return ErrBadValue
		}
		v.Store(sv)
		return nil
	}
	return read, write
}
