package vsl

import (
	"errors"
	"testing"
)

// newTestFrame allocates a free-standing frame and fills it with a
// row-major byte counter.
func newTestFrame(t *testing.T, w, h int, format string) *Frame {
	t.Helper()
	f, err := NewFrame(w, h, 0, format)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	t.Cleanup(f.Release)

	if err := f.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	buf, err := f.MapMut()
	if err != nil {
		t.Fatalf("MapMut failed: %v", err)
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := f.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	return f
}

func TestNewEncoderValidates(t *testing.T) {
	if _, err := NewEncoder(ProfileBalanced, "bad", 30); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
	if _, err := NewEncoder(Profile(99), "H264", 30); err == nil {
		t.Error("Expected error for unknown profile")
	}
	if _, err := NewEncoder(ProfileSpeed, "H264", 0); err == nil {
		t.Error("Expected error for zero fps")
	}

	e, err := NewEncoder(ProfileQuality, "H264", 30)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if e.Profile() != ProfileQuality {
		t.Errorf("Expected quality profile, got %s", e.Profile())
	}
	if e.FourCC() != FourCCH264 {
		t.Errorf("Expected H264, got %s", e.FourCC())
	}
	if e.FPS() != 30 {
		t.Errorf("Expected fps 30, got %d", e.FPS())
	}
}

func TestNewOutputFrame(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "H264", 30)
	f, err := e.NewOutputFrame(1280, 720, 33333, 100, 90)
	if err != nil {
		t.Fatalf("NewOutputFrame failed: %v", err)
	}
	defer f.Release()

	if f.FourCC() != FourCCH264 {
		t.Errorf("Expected H264 output, got %s", f.FourCC())
	}
	if f.Duration() != 33333 || f.PTS() != 100 || f.DTS() != 90 {
		t.Errorf("Timing mismatch: dur=%d pts=%d dts=%d", f.Duration(), f.PTS(), f.DTS())
	}
	if _, err := f.Map(); err != nil {
		t.Errorf("Output frame should be backed: %v", err)
	}
}

func TestTransformCropPacked(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "RGBA", 30)
	src := newTestFrame(t, 4, 4, "RGBA")
	dst, err := e.NewOutputFrame(2, 2, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewOutputFrame failed: %v", err)
	}

	var keyframe int
	if status := e.Transform(src, dst, Rect{X: 1, Y: 1, Width: 2, Height: 2}, &keyframe); status != TransformOK {
		t.Fatalf("Transform failed with status %d", status)
	}
	if keyframe != 1 {
		t.Errorf("First output should be a keyframe, got %d", keyframe)
	}

	out, err := dst.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	// Row r of the crop is 8 bytes starting at src offset (1+r)*16 + 4.
	for r := 0; r < 2; r++ {
		for i := 0; i < 8; i++ {
			want := byte((1+r)*16 + 4 + i)
			if out[r*8+i] != want {
				t.Fatalf("Row %d byte %d: expected %d, got %d", r, i, want, out[r*8+i])
			}
		}
	}
}

func TestTransformKeyframeCadence(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "RGBA", 2) // GOP of 2
	src := newTestFrame(t, 2, 2, "RGBA")

	for i, want := range []int{1, 0, 1, 0} {
		dst, err := e.NewOutputFrame(2, 2, 0, 0, 0)
		if err != nil {
			t.Fatalf("NewOutputFrame failed: %v", err)
		}
		var keyframe int
		if status := e.Transform(src, dst, Rect{Width: 2, Height: 2}, &keyframe); status != TransformOK {
			t.Fatalf("Transform %d failed with status %d", i, status)
		}
		if keyframe != want {
			t.Errorf("Frame %d: expected keyframe=%d, got %d", i, want, keyframe)
		}
		dst.Release()
	}
}

func TestTransformInvalidGeometry(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "RGBA", 30)
	src := newTestFrame(t, 4, 4, "RGBA")
	dst, _ := e.NewOutputFrame(2, 2, 0, 0, 0)

	cases := []Rect{
		{X: 3, Y: 0, Width: 2, Height: 2}, // crosses the right edge
		{X: 0, Y: 3, Width: 2, Height: 2}, // crosses the bottom edge
		{X: -1, Y: 0, Width: 2, Height: 2},
		{Width: 0, Height: 2},
		{Width: 4, Height: 4}, // larger than dst
	}
	for _, crop := range cases {
		if status := e.Transform(src, dst, crop, nil); status != TransformInvalidGeometry {
			t.Errorf("Crop %+v: expected %d, got %d", crop, TransformInvalidGeometry, status)
		}
	}
}

func TestTransformUnsupportedFormat(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "RGBA", 30)
	src := newTestFrame(t, 4, 4, "GREY")
	dst, _ := e.NewOutputFrame(4, 4, 0, 0, 0)

	// Raw output demands matching raw input.
	if status := e.Transform(src, dst, Rect{Width: 4, Height: 4}, nil); status != TransformUnsupportedFormat {
		t.Errorf("Expected %d for format mismatch, got %d", TransformUnsupportedFormat, status)
	}

	// Destination not in the encoder's output format.
	other := newTestFrame(t, 4, 4, "GREY")
	if status := e.Transform(other, other, Rect{Width: 4, Height: 4}, nil); status != TransformUnsupportedFormat {
		t.Errorf("Expected %d for wrong dst format, got %d", TransformUnsupportedFormat, status)
	}
}

func TestTransformCompressedOutput(t *testing.T) {
	e, _ := NewEncoder(ProfileSpeed, "H264", 30)
	src := newTestFrame(t, 4, 4, "RGBA")
	dst, err := e.NewOutputFrame(4, 4, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewOutputFrame failed: %v", err)
	}

	var keyframe int
	if status := e.Transform(src, dst, Rect{Width: 4, Height: 4}, &keyframe); status != TransformOK {
		t.Fatalf("Transform failed with status %d", status)
	}

	out, err := dst.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	// Bitstream output carries the source payload verbatim, clipped to
	// the destination buffer.
	for i := range out {
		if out[i] != byte(i) {
			t.Fatalf("Byte %d: expected %d, got %d", i, byte(i), out[i])
		}
	}
}

func TestTransformNV12Crop(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "NV12", 30)
	src := newTestFrame(t, 4, 4, "NV12")
	dst, err := e.NewOutputFrame(2, 2, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewOutputFrame failed: %v", err)
	}

	if status := e.Transform(src, dst, Rect{Width: 2, Height: 2}, nil); status != TransformOK {
		t.Fatalf("Transform failed with status %d", status)
	}

	out, err := dst.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	// Luma: rows 0 and 1 of the source, first two bytes each.
	luma := []byte{0, 1, 4, 5}
	for i, want := range luma {
		if out[i] != want {
			t.Errorf("Luma byte %d: expected %d, got %d", i, want, out[i])
		}
	}
	// Chroma plane starts at 16 in the source, 4 in the destination.
	chroma := []byte{16, 17}
	for i, want := range chroma {
		if out[4+i] != want {
			t.Errorf("Chroma byte %d: expected %d, got %d", i, want, out[4+i])
		}
	}
}

func TestTransformFailsWhenDestinationLocked(t *testing.T) {
	e, _ := NewEncoder(ProfileBalanced, "RGBA", 30)
	src := newTestFrame(t, 2, 2, "RGBA")
	dst, _ := e.NewOutputFrame(2, 2, 0, 0, 0)

	if err := dst.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer dst.Unlock()
	if status := e.Transform(src, dst, Rect{Width: 2, Height: 2}, nil); status != TransformFailed {
		t.Errorf("Expected %d when dst is locked, got %d", TransformFailed, status)
	}
}
