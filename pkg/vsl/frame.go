package vsl

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp returns the library's wall-clock time in microseconds. Frame
// creation times, leases, and presentation times all use this clock.
func Timestamp() int64 {
	return time.Now().UnixMicro()
}

// Timing carries the presentation timing of a frame in microseconds.
type Timing struct {
	PTS      int64
	DTS      int64
	Duration int64
}

// Frame is a reference-counted handle to a pixel buffer plus timing and
// format metadata. A frame can be created free-standing (a local scratch
// buffer, e.g. an Encoder's output), obtained from a Host for publishing,
// or resolved by a Client from a received notification, in which case it is
// bound to the same backing memory as the host's copy.
//
// The backing descriptor is immutable once bound; only the lock state and
// the mapped view change afterwards. Frames are not safe for concurrent use
// by multiple goroutines without external coordination, but distinct frames
// over the same buffer may be used from different processes concurrently,
// arbitrated by the advisory lock.
type Frame struct {
	mu sync.Mutex

	code   FourCC
	width  int
	height int
	stride int
	size   int

	serial  int64
	created int64
	expires int64
	timing  Timing

	seg    *segment
	locked bool
	view   []byte

	refs int

	// Installed by the owning host or client; nil for free-standing frames.
	validate func() error
	recycle  func(*Frame)
}

// NewFrame validates the format code and returns an unbound frame
// descriptor: metadata only, no backing memory yet. Pass stride 0 to derive
// it from the format and width.
func NewFrame(width, height, stride int, format string) (*Frame, error) {
	code, err := ParseFourCC(format)
	if err != nil {
		return nil, err
	}
	if stride == 0 {
		stride = code.defaultStride(width)
	}
	size := code.frameSize(width, height, stride)
	if size <= 0 {
		return nil, fmt.Errorf("%w: geometry %dx%d stride %d", ErrInvalidFormat, width, height, stride)
	}
	return &Frame{
		code:    code,
		width:   width,
		height:  height,
		stride:  stride,
		size:    size,
		created: Timestamp(),
		refs:    1,
	}, nil
}

// Alloc binds backing memory to the frame: an anonymous memfd segment, or a
// file-backed mapping at path when one is given. Calling Alloc or Attach a
// second time returns ErrAlreadyAllocated.
func (f *Frame) Alloc(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seg != nil {
		return ErrAlreadyAllocated
	}
	var (
		seg *segment
		err error
	)
	if path == "" {
		seg, err = newAnonymousSegment(f.size)
	} else {
		seg, err = newFileSegment(path, f.size)
	}
	if err != nil {
		return err
	}
	f.seg = seg
	return nil
}

// Attach binds the frame to an externally supplied file or dmabuf
// descriptor instead of allocating. The frame takes ownership of fd.
func (f *Frame) Attach(fd int, size int, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seg != nil {
		return ErrAlreadyAllocated
	}
	if size != f.size {
		return fmt.Errorf("%w: descriptor size %d does not cover frame size %d", ErrInvalidDescriptor, size, f.size)
	}
	seg, err := attachSegment(fd, size, offset)
	if err != nil {
		return err
	}
	f.seg = seg
	return nil
}

// AttachPhysical binds the frame to a hardware-mapped buffer address.
// Physical frames are introspection-only: they cannot be mapped or locked
// from user space, and only PhysAddr resolves on them.
func (f *Frame) AttachPhysical(paddr int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seg != nil {
		return ErrAlreadyAllocated
	}
	if paddr < 0 {
		return fmt.Errorf("%w: physical address %#x", ErrInvalidDescriptor, paddr)
	}
	f.seg = physicalSegment(paddr, f.size)
	return nil
}

// TryLock acquires the frame's advisory lock without blocking. It fails
// with ErrAlreadyLocked when any owner, in this process or another, holds
// the lock. Callers wanting blocking semantics implement their own retry.
func (f *Frame) TryLock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkValid(); err != nil {
		return err
	}
	if f.seg == nil {
		return ErrNotLockable
	}
	if f.locked {
		return ErrAlreadyLocked
	}
	if err := f.seg.tryLock(); err != nil {
		return err
	}
	f.locked = true
	return nil
}

// Unlock releases the advisory lock. A handle whose slot was reclaimed
// reports ErrStaleReference and leaves the lock to the slot's current
// occupant.
func (f *Frame) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.locked {
		return ErrNotLocked
	}
	f.locked = false
	if err := f.checkValid(); err != nil {
		return err
	}
	return f.seg.unlock()
}

// Map returns a read-only view over exactly Size bytes of the backing
// buffer, mapping it into the process on first use.
func (f *Frame) Map() ([]byte, error) {
	return f.mapView(false)
}

// MapMut returns a writable view. Only the exclusive lock holder may
// request one; without the lock it fails with ErrNotLocked.
func (f *Frame) MapMut() ([]byte, error) {
	return f.mapView(true)
}

func (f *Frame) mapView(writable bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkValid(); err != nil {
		return nil, err
	}
	if f.seg == nil {
		return nil, ErrNotLockable
	}
	if writable && !f.locked {
		return nil, ErrNotLocked
	}
	view, err := f.seg.mapView(writable)
	if err != nil {
		return nil, err
	}
	f.view = view
	return view, nil
}

// Unmap drops the mapped view. It is also performed implicitly when the
// last reference is released. Stale handles only drop their own view; the
// shared mapping stays with the slot's current occupant.
func (f *Frame) Unmap() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seg != nil && f.checkValid() == nil {
		_ = f.seg.unmap()
	}
	f.view = nil
}

// Retain adds an ownership reference and returns the frame for chaining.
func (f *Frame) Retain() *Frame {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

// Release drops one ownership reference. On the last release the frame is
// handed back to its owner: a host returns the buffer slot to its pool, a
// client reports the release and closes its private mapping, and a
// free-standing frame frees its backing memory. Owner-bound frames leave
// segment cleanup entirely to the owner; a host slot may already belong to
// a new occupant, in which case a stale handle must not unlock or unmap
// the shared segment. Cleanup on this path is best-effort and never fails
// the release.
func (f *Frame) Release() {
	f.mu.Lock()
	f.refs--
	if f.refs > 0 {
		f.mu.Unlock()
		return
	}
	f.view = nil
	recycle := f.recycle
	f.recycle = nil
	if recycle != nil {
		f.mu.Unlock()
		recycle(f)
		return
	}
	f.locked = false
	seg := f.seg
	f.seg = nil
	f.mu.Unlock()
	if seg != nil {
		_ = seg.close()
	}
}

// checkValid consults the owner's generation/lease check. Host- and
// client-bound frames fail with ErrStaleReference after force reclamation;
// free-standing frames are always valid. Callers hold f.mu.
func (f *Frame) checkValid() error {
	if f.validate == nil {
		return nil
	}
	return f.validate()
}

// Serial returns the buffer-instance serial assigned at publish time, or 0
// for frames that were never published.
func (f *Frame) Serial() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serial
}

// FourCC returns the packed format code.
func (f *Frame) FourCC() FourCC { return f.code }

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Stride returns the luma-plane stride in bytes.
func (f *Frame) Stride() int { return f.stride }

// Size returns the backing buffer size in bytes.
func (f *Frame) Size() int { return f.size }

// Created returns the wall-clock creation time in microseconds.
func (f *Frame) Created() int64 { return f.created }

// PTS returns the presentation timestamp in microseconds.
func (f *Frame) PTS() int64 { return f.timing.PTS }

// DTS returns the decode timestamp in microseconds.
func (f *Frame) DTS() int64 { return f.timing.DTS }

// Duration returns the frame duration in microseconds.
func (f *Frame) Duration() int64 { return f.timing.Duration }

// SetTiming sets the presentation timing before publishing.
func (f *Frame) SetTiming(t Timing) {
	f.mu.Lock()
	f.timing = t
	f.mu.Unlock()
}

// Expires returns the lease deadline in microseconds, or 0 when the frame
// carries no lease.
func (f *Frame) Expires() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expires
}

// Handle returns the backing file descriptor when the frame is fd-backed.
func (f *Frame) Handle() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seg == nil || f.seg.fd < 0 {
		return -1, false
	}
	return f.seg.fd, true
}

// Path returns the filesystem path of a file-backed mapping.
func (f *Frame) Path() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seg == nil || f.seg.kind != backingFile {
		return "", false
	}
	return f.seg.path, true
}

// PhysAddr returns the physical address of a hardware-mapped buffer.
func (f *Frame) PhysAddr() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seg == nil || f.seg.kind != backingPhysical {
		return -1, false
	}
	return f.seg.paddr, true
}

// bind installs the owner hooks and identity for a host- or client-owned
// frame. The segment may already be bound when a host reuses a slot.
func (f *Frame) bind(seg *segment, serial, expires int64, validate func() error, recycle func(*Frame)) {
	f.mu.Lock()
	if seg != nil {
		f.seg = seg
	}
	f.serial = serial
	f.expires = expires
	f.validate = validate
	f.recycle = recycle
	f.mu.Unlock()
}

// setPublished stamps the serial and lease at publish time.
func (f *Frame) setPublished(serial, expires int64) {
	f.mu.Lock()
	f.serial = serial
	f.expires = expires
	f.mu.Unlock()
}
