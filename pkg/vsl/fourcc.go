package vsl

// FourCC is a 4-byte ASCII format identifier packed little-endian into a
// 32-bit value: byte[0] | byte[1]<<8 | byte[2]<<16 | byte[3]<<24.
type FourCC uint32

// Well-known format codes.
const (
	FourCCNV12 FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FourCCNV21 FourCC = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	FourCCI420 FourCC = 'I' | '4'<<8 | '2'<<16 | '0'<<24
	FourCCYUYV FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	FourCCUYVY FourCC = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24
	FourCCRGBA FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'A'<<24
	FourCCBGRA FourCC = 'B' | 'G'<<8 | 'R'<<16 | 'A'<<24
	FourCCRGB3 FourCC = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
	FourCCGREY FourCC = 'G' | 'R'<<8 | 'E'<<16 | 'Y'<<24
	FourCCH264 FourCC = 'H' | '2'<<8 | '6'<<16 | '4'<<24
	FourCCHEVC FourCC = 'H' | 'E'<<8 | 'V'<<16 | 'C'<<24
	FourCCJPEG FourCC = 'J' | 'P'<<8 | 'E'<<16 | 'G'<<24
)

// ParseFourCC packs a 4-character ASCII string into a FourCC code.
// Returns ErrInvalidFormat for any other input.
func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, ErrInvalidFormat
	}
	var code FourCC
	for i := 0; i < 4; i++ {
		b := s[i]
		if b < 0x20 || b > 0x7e {
			return 0, ErrInvalidFormat
		}
		code |= FourCC(b) << (i * 8)
	}
	return code, nil
}

// String unpacks the code back into its 4-character form.
func (c FourCC) String() string {
	return string([]byte{
		byte(c),
		byte(c >> 8),
		byte(c >> 16),
		byte(c >> 24),
	})
}

// compressed reports whether the code names a bitstream format rather than
// a raw pixel layout. Compressed frames have no fixed per-pixel size.
func (c FourCC) compressed() bool {
	switch c {
	case FourCCH264, FourCCHEVC, FourCCJPEG:
		return true
	}
	return false
}

// defaultStride returns the luma-plane stride for a raw format, or width
// for compressed formats where stride has no meaning.
func (c FourCC) defaultStride(width int) int {
	switch c {
	case FourCCYUYV, FourCCUYVY:
		return width * 2
	case FourCCRGBA, FourCCBGRA:
		return width * 4
	case FourCCRGB3:
		return width * 3
	default:
		return width
	}
}

// frameSize computes the buffer size in bytes for the given geometry.
// For planar YUV formats the stride applies to the luma plane. Compressed
// formats get a width*height worst-case bitstream buffer.
func (c FourCC) frameSize(width, height, stride int) int {
	if width <= 0 || height <= 0 || stride <= 0 {
		return 0
	}
	switch c {
	case FourCCNV12, FourCCNV21, FourCCI420:
		return stride*height + stride*height/2
	case FourCCH264, FourCCHEVC, FourCCJPEG:
		return width * height
	default:
		return stride * height
	}
}
