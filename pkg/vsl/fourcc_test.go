package vsl

import (
	"errors"
	"testing"
)

func TestParseFourCC(t *testing.T) {
	code, err := ParseFourCC("NV12")
	if err != nil {
		t.Fatalf("ParseFourCC failed: %v", err)
	}
	if code != FourCCNV12 {
		t.Errorf("Expected %#x, got %#x", uint32(FourCCNV12), uint32(code))
	}
	if code.String() != "NV12" {
		t.Errorf("Expected round-trip to 'NV12', got %q", code.String())
	}
}

func TestParseFourCCRejectsBadInput(t *testing.T) {
	cases := []string{"", "NV1", "NV123", "NV\x001", "AB\x7fD"}
	for _, s := range cases {
		if _, err := ParseFourCC(s); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseFourCC(%q): expected ErrInvalidFormat, got %v", s, err)
		}
	}
}

func TestFourCCPacking(t *testing.T) {
	// Little-endian byte packing: first character in the low byte.
	code, _ := ParseFourCC("NV12")
	if byte(code) != 'N' || byte(code>>24) != '2' {
		t.Errorf("Unexpected packing: %#x", uint32(code))
	}
}

func TestCompressed(t *testing.T) {
	for _, c := range []FourCC{FourCCH264, FourCCHEVC, FourCCJPEG} {
		if !c.compressed() {
			t.Errorf("%s should be compressed", c)
		}
	}
	for _, c := range []FourCC{FourCCNV12, FourCCRGBA, FourCCGREY} {
		if c.compressed() {
			t.Errorf("%s should not be compressed", c)
		}
	}
}

func TestDefaultStride(t *testing.T) {
	cases := []struct {
		code   FourCC
		stride int
	}{
		{FourCCNV12, 640},
		{FourCCGREY, 640},
		{FourCCYUYV, 1280},
		{FourCCRGBA, 2560},
		{FourCCRGB3, 1920},
	}
	for _, c := range cases {
		if got := c.code.defaultStride(640); got != c.stride {
			t.Errorf("%s: expected stride %d, got %d", c.code, c.stride, got)
		}
	}
}

func TestFrameSize(t *testing.T) {
	if got := FourCCNV12.frameSize(640, 480, 640); got != 640*480*3/2 {
		t.Errorf("NV12 size: expected %d, got %d", 640*480*3/2, got)
	}
	if got := FourCCRGBA.frameSize(640, 480, 2560); got != 2560*480 {
		t.Errorf("RGBA size: expected %d, got %d", 2560*480, got)
	}
	if got := FourCCH264.frameSize(640, 480, 640); got != 640*480 {
		t.Errorf("H264 size: expected %d, got %d", 640*480, got)
	}
	if got := FourCCNV12.frameSize(0, 480, 640); got != 0 {
		t.Errorf("Degenerate geometry should give size 0, got %d", got)
	}
}
