// Package hal declares the small collaborator interfaces the core consumes
// but does not implement (spec §1, §6): the image sensor, the persistent
// settings store, and link (network) identity. Production backends live
// outside this module; mock_camera.go, settings.go and linkinfo.go here provide the
// process-local defaults used by cmd/gvisiond and by tests.
package hal

import "context"

// PixelFormat is a GenICam PFNC pixel format code (spec §6).
type PixelFormat uint32

const (
	PixelFormatMono8  PixelFormat = 0x01080001
	PixelFormatRGB565 PixelFormat = 0x02100005
	PixelFormatYUV422 PixelFormat = 0x02100004
	PixelFormatRGB8   PixelFormat = 0x02180014
	PixelFormatJPEG   PixelFormat = 0x80000001
)

// BytesPerPixel returns the packed bytes-per-pixel for fixed-size formats,
// and false for variable-length formats (JPEG), per SPEC_FULL §3.1.
func (pf PixelFormat) BytesPerPixel() (int, bool) {
	switch pf {
	case PixelFormatMono8:
		return 1, true
	case PixelFormatRGB565, PixelFormatYUV422:
		return 2, true
	case PixelFormatRGB8:
		return 3, true
	default:
		return 0, false
	}
}

// WhiteBalanceMode is the sensor's auto white balance setting.
type WhiteBalanceMode int32

const (
	WhiteBalanceOff WhiteBalanceMode = iota
	WhiteBalanceAuto
)

// TriggerMode selects how frame capture is initiated.
type TriggerMode int32

const (
	TriggerOff TriggerMode = iota
	TriggerOn
	TriggerSoftware
)

// Frame is a single captured image, as returned by Camera.CaptureFrame.
type Frame struct {
	Bytes       []byte
	Width       uint32
	Height      uint32
	PixelFormat PixelFormat
}

// Camera is the image-sensor collaborator (spec §1, §6): read-only capture
// plus the setters for the sensor parameters the register map exposes.
// Descended from the teacher's CameraController, trimmed to the pull-based
// capture model spec §4.8 requires (no push-streaming, no lifecycle calls —
// the streaming service owns pacing and the sensor is always ready).
type Camera interface {
	CaptureFrame(ctx context.Context) (Frame, error)
	ReturnFrame(f Frame)

	SetExposureMicros(us int) error
	SetGain(db float64) error
	SetBrightness(v int) error
	SetContrast(v int) error
	SetSaturation(v int) error
	SetWhiteBalanceMode(mode WhiteBalanceMode) error
	SetTriggerMode(mode TriggerMode) error
	SetPixelFormat(pf PixelFormat) error
	SetJPEGQuality(q int) error
}

// Snapshot is the persisted subset of sensor parameters (spec §6).
type Snapshot struct {
	ExposureUs  uint32
	Gain        int32
	Brightness  int32
	Contrast    int32
	Saturation  int32
	WBMode      int32
	TriggerMode int32
	JPEGQuality int32
	PixelFormat int32
}

// SettingsStore is the non-volatile-settings collaborator (spec §1, §6):
// read/write key->value persistence for sensor parameters, external to this
// module in production (flash-backed NVS) but backed here by a JSON file
// for local development and tests.
type SettingsStore interface {
	Save(Snapshot) error
	Load() (Snapshot, error)
	ResetDefaults() error
}

// LinkInfo is the network-identity collaborator (spec §6): MAC and IPv4
// configuration, supplied by Wi-Fi/DHCP bring-up external to this module.
type LinkInfo interface {
	MAC() [6]byte
	IPv4() [4]byte
	SubnetMask() [4]byte
	Gateway() [4]byte
}
