package vsl

import (
	"fmt"
)

// Profile selects among the closed set of transform configurations.
type Profile int

const (
	// ProfileBalanced trades quality against speed evenly.
	ProfileBalanced Profile = iota
	// ProfileQuality favors output fidelity over throughput.
	ProfileQuality
	// ProfileSpeed favors throughput over output fidelity.
	ProfileSpeed
)

func (p Profile) String() string {
	switch p {
	case ProfileBalanced:
		return "balanced"
	case ProfileQuality:
		return "quality"
	case ProfileSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// Rect is a crop region in source pixel coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Transform status codes. Negative values indicate failure classes.
const (
	TransformOK                = 0
	TransformInvalidGeometry   = -1
	TransformUnsupportedFormat = -2
	TransformFailed            = -3
)

// Encoder is a frame-to-frame transform stage bound to a fixed output
// format and frame rate. It consumes and produces Frame objects but never
// participates in the host/client protocol; its only state is the
// configured profile and the running frame counter driving keyframe
// cadence.
type Encoder struct {
	profile Profile
	code    FourCC
	fps     int
	gop     int
	frames  int64
}

// NewEncoder configures a transform context. The output format must be a
// valid 4-character code and fps must be positive. The keyframe cadence is
// one GOP per second of output.
func NewEncoder(profile Profile, outputFormat string, fps int) (*Encoder, error) {
	code, err := ParseFourCC(outputFormat)
	if err != nil {
		return nil, err
	}
	if profile < ProfileBalanced || profile > ProfileSpeed {
		return nil, fmt.Errorf("vsl: unknown encoder profile %d", profile)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("vsl: fps must be positive, got %d", fps)
	}
	return &Encoder{
		profile: profile,
		code:    code,
		fps:     fps,
		gop:     fps,
	}, nil
}

// Profile returns the configured transform profile.
func (e *Encoder) Profile() Profile { return e.profile }

// FourCC returns the fixed output format code.
func (e *Encoder) FourCC() FourCC { return e.code }

// FPS returns the configured output frame rate.
func (e *Encoder) FPS() int { return e.fps }

// NewOutputFrame allocates a free-standing destination frame sized for the
// transform's output format. The frame owns its backing memory outright; no
// host pool is involved.
func (e *Encoder) NewOutputFrame(width, height int, duration, pts, dts int64) (*Frame, error) {
	f, err := NewFrame(width, height, 0, e.code.String())
	if err != nil {
		return nil, err
	}
	if err := f.Alloc(""); err != nil {
		return nil, err
	}
	f.SetTiming(Timing{PTS: pts, DTS: dts, Duration: duration})
	return f, nil
}

// Transform reads src, applies the crop rectangle, and writes the result
// into dst, reporting through keyframe whether the output is a sync point.
// It returns a status code rather than an error: TransformOK on success,
// negative values for the failure classes above.
//
// Pixel format conversion is out of scope: raw sources must match dst's
// format byte-for-byte, while compressed output formats treat the source
// bytes as the payload to carry. Transform acquires dst's lock for the
// duration of the write and fails with TransformFailed when another owner
// holds it.
func (e *Encoder) Transform(src, dst *Frame, crop Rect, keyframe *int) int {
	if src == nil || dst == nil {
		return TransformFailed
	}
	if crop.Width <= 0 || crop.Height <= 0 ||
		crop.X < 0 || crop.Y < 0 ||
		crop.X+crop.Width > src.Width() ||
		crop.Y+crop.Height > src.Height() {
		return TransformInvalidGeometry
	}
	if dst.Width() < crop.Width || dst.Height() < crop.Height {
		return TransformInvalidGeometry
	}
	if dst.FourCC() != e.code {
		return TransformUnsupportedFormat
	}
	if !e.code.compressed() && src.FourCC() != dst.FourCC() {
		return TransformUnsupportedFormat
	}

	in, err := src.Map()
	if err != nil {
		return TransformFailed
	}
	if err := dst.TryLock(); err != nil {
		return TransformFailed
	}
	defer dst.Unlock()
	out, err := dst.MapMut()
	if err != nil {
		return TransformFailed
	}

	status := TransformOK
	switch {
	case e.code.compressed():
		// Bitstream output: carry the cropped source payload verbatim.
		n := len(in)
		if n > len(out) {
			n = len(out)
		}
		copy(out, in[:n])
	case src.FourCC() == FourCCNV12 || src.FourCC() == FourCCNV21:
		status = cropNV12(in, out, src, dst, crop)
	case src.FourCC().compressed():
		status = TransformUnsupportedFormat
	default:
		status = cropPacked(in, out, src, dst, crop)
	}
	if status != TransformOK {
		return status
	}

	if keyframe != nil {
		if e.frames%int64(e.gop) == 0 {
			*keyframe = 1
		} else {
			*keyframe = 0
		}
	}
	e.frames++
	return TransformOK
}

// cropPacked copies a rectangle between packed-pixel frames of the same
// format.
func cropPacked(in, out []byte, src, dst *Frame, crop Rect) int {
	bpp := src.Stride() / src.Width()
	if bpp <= 0 {
		return TransformUnsupportedFormat
	}
	rowLen := crop.Width * bpp
	for row := 0; row < crop.Height; row++ {
		so := (crop.Y+row)*src.Stride() + crop.X*bpp
		do := row * dst.Stride()
		if so+rowLen > len(in) || do+rowLen > len(out) {
			return TransformFailed
		}
		copy(out[do:do+rowLen], in[so:so+rowLen])
	}
	return TransformOK
}

// cropNV12 copies a rectangle between semi-planar YUV 4:2:0 frames. The
// crop origin is clamped to even coordinates so the interleaved chroma
// plane stays aligned.
func cropNV12(in, out []byte, src, dst *Frame, crop Rect) int {
	x := crop.X &^ 1
	y := crop.Y &^ 1
	w := crop.Width &^ 1
	hgt := crop.Height &^ 1
	if w == 0 || hgt == 0 {
		return TransformInvalidGeometry
	}

	// Luma plane.
	for row := 0; row < hgt; row++ {
		so := (y+row)*src.Stride() + x
		do := row * dst.Stride()
		if so+w > len(in) || do+w > len(out) {
			return TransformFailed
		}
		copy(out[do:do+w], in[so:so+w])
	}

	// Interleaved chroma plane, half height, full row width in bytes.
	srcChroma := src.Stride() * src.Height()
	dstChroma := dst.Stride() * dst.Height()
	for row := 0; row < hgt/2; row++ {
		so := srcChroma + (y/2+row)*src.Stride() + x
		do := dstChroma + row*dst.Stride()
		if so+w > len(in) || do+w > len(out) {
			return TransformFailed
		}
		copy(out[do:do+w], in[so:so+w])
	}
	return TransformOK
}
