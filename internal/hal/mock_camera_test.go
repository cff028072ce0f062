package hal

import (
	"context"
	"testing"
)

func TestMockCameraCaptureRaw(t *testing.T) {
	cam := NewMockCamera(320, 240)
	f, err := cam.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(f.Bytes) != 320*240 {
		t.Fatalf("got %d bytes want %d (Mono8)", len(f.Bytes), 320*240)
	}
	if f.Width != 320 || f.Height != 240 {
		t.Fatalf("dims = %dx%d", f.Width, f.Height)
	}
}

func TestMockCameraCaptureJPEG(t *testing.T) {
	cam := NewMockCamera(64, 48)
	if err := cam.SetPixelFormat(PixelFormatJPEG); err != nil {
		t.Fatalf("set pixel format: %v", err)
	}
	f, err := cam.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(f.Bytes) < 2 || f.Bytes[0] != 0xFF || f.Bytes[1] != 0xD8 {
		t.Fatalf("not a JPEG: % x", f.Bytes[:min(len(f.Bytes), 4)])
	}
}


func TestMockCameraValidation(t *testing.T) {
	cam := NewMockCamera(8, 8)
	if err := cam.SetExposureMicros(0); err == nil {
		t.Fatal("expected error for exposure=0")
	}
	if err := cam.SetGain(31); err == nil {
		t.Fatal("expected error for gain>30")
	}
	if err := cam.SetBrightness(3); err == nil {
		t.Fatal("expected error for brightness out of range")
	}
	if err := cam.SetJPEGQuality(64); err == nil {
		t.Fatal("expected error for jpeg quality>63")
	}
}

