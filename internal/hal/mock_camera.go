package hal

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// MockCamera simulates an image sensor for local development and tests.
// Adapted from the teacher's test-pattern generator: the original always
// encoded a JPEG test image regardless of backend; this one emits raw
// pixel-format-aware bytes so it can stand in for the real sensor across
// Mono8/RGB/YUV as well as JPEG.
type MockCamera struct {
	mu sync.Mutex

	width, height int
	pixelFormat   PixelFormat

	exposureUs  int
	gainDB      float64
	brightness  int
	contrast    int
	saturation  int
	wbMode      WhiteBalanceMode
	triggerMode TriggerMode
	jpegQuality int

	frameCount uint64
}

// NewMockCamera returns a MockCamera producing width x height frames.
func NewMockCamera(width, height int) *MockCamera {
	return &MockCamera{
		width:       width,
		height:      height,
		pixelFormat: PixelFormatMono8,
		exposureUs:  10000,
		gainDB:      0,
		wbMode:      WhiteBalanceAuto,
		triggerMode: TriggerOff,
		jpegQuality: 85,
	}
}

func (c *MockCamera) CaptureFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameCount++

	var buf []byte
	if c.pixelFormat == PixelFormatJPEG {
		var err error
		buf, err = c.encodeJPEG()
		if err != nil {
			return Frame{}, fmt.Errorf("mock camera: encode frame: %w", err)
		}
	} else {
		buf = c.fillRaw()
	}

	return Frame{
		Bytes:       buf,
		Width:       uint32(c.width),
		Height:      uint32(c.height),
		PixelFormat: c.pixelFormat,
	}, nil
}

func (c *MockCamera) ReturnFrame(Frame) {}

func (c *MockCamera) fillRaw() []byte {
	bpp, ok := c.pixelFormat.BytesPerPixel()
	if !ok {
		bpp = 1
	}
	buf := make([]byte, c.width*c.height*bpp)
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			base := (y*c.width + x) * bpp
			v := byte((x*255)/max(c.width, 1)) + byte(c.frameCount)
			for i := 0; i < bpp; i++ {
				buf[base+i] = v
			}
		}
	}
	return buf
}

func (c *MockCamera) encodeJPEG() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, c.width, c.height))
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			v := uint8((x*255)/max(c.width, 1)) + uint8(c.frameCount)
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MockCamera) SetExposureMicros(us int) error {
	if us < 1 || us > 1000000 {
		return fmt.Errorf("mock camera: exposure out of range: %d", us)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposureUs = us
	return nil
}

func (c *MockCamera) SetGain(db float64) error {
	if db < 0 || db > 30 {
		return fmt.Errorf("mock camera: gain out of range: %f", db)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gainDB = db
	return nil
}

func (c *MockCamera) SetBrightness(v int) error {
	if v < -2 || v > 2 {
		return fmt.Errorf("mock camera: brightness out of range: %d", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brightness = v
	return nil
}

func (c *MockCamera) SetContrast(v int) error {
	if v < -2 || v > 2 {
		return fmt.Errorf("mock camera: contrast out of range: %d", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contrast = v
	return nil
}

func (c *MockCamera) SetSaturation(v int) error {
	if v < -2 || v > 2 {
		return fmt.Errorf("mock camera: saturation out of range: %d", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saturation = v
	return nil
}

func (c *MockCamera) SetWhiteBalanceMode(mode WhiteBalanceMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wbMode = mode
	return nil
}

func (c *MockCamera) SetTriggerMode(mode TriggerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggerMode = mode
	return nil
}

func (c *MockCamera) SetPixelFormat(pf PixelFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixelFormat = pf
	return nil
}

func (c *MockCamera) SetJPEGQuality(q int) error {
	if q < 0 || q > 63 {
		return fmt.Errorf("mock camera: jpeg quality out of range: %d", q)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jpegQuality = q
	return nil
}

