package vsl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewFrameDerivesStrideAndSize(t *testing.T) {
	f, err := NewFrame(640, 480, 0, "NV12")
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if f.Stride() != 640 {
		t.Errorf("Expected stride 640, got %d", f.Stride())
	}
	if f.Size() != 640*480*3/2 {
		t.Errorf("Expected size %d, got %d", 640*480*3/2, f.Size())
	}
	if f.Serial() != 0 {
		t.Errorf("Unpublished frame should have serial 0, got %d", f.Serial())
	}
	if f.Created() == 0 {
		t.Error("Created timestamp should be set")
	}

	rgba, err := NewFrame(320, 240, 0, "RGBA")
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if rgba.Stride() != 320*4 {
		t.Errorf("Expected stride %d, got %d", 320*4, rgba.Stride())
	}
}

func TestNewFrameRejectsBadInput(t *testing.T) {
	if _, err := NewFrame(640, 480, 0, "bad"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat for 3-char code, got %v", err)
	}
	if _, err := NewFrame(0, 480, 0, "NV12"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat for zero width, got %v", err)
	}
}

func TestAllocMapWriteRead(t *testing.T) {
	f, err := NewFrame(16, 16, 0, "GREY")
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()

	if err := f.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	buf, err := f.MapMut()
	if err != nil {
		t.Fatalf("MapMut failed: %v", err)
	}
	if len(buf) != f.Size() {
		t.Fatalf("Expected view of %d bytes, got %d", f.Size(), len(buf))
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := f.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	view, err := f.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for i := range view {
		if view[i] != byte(i) {
			t.Fatalf("Byte %d: expected %d, got %d", i, byte(i), view[i])
		}
	}
}

func TestMapMutRequiresLock(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()

	if _, err := f.MapMut(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("Expected ErrNotLocked, got %v", err)
	}
	// Read-only mapping needs no lock.
	if _, err := f.Map(); err != nil {
		t.Errorf("Map without lock failed: %v", err)
	}
}

func TestLockWithoutBacking(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.TryLock(); !errors.Is(err, ErrNotLockable) {
		t.Errorf("Expected ErrNotLockable, got %v", err)
	}
	if _, err := f.Map(); !errors.Is(err, ErrNotLockable) {
		t.Errorf("Expected ErrNotLockable, got %v", err)
	}
}

func TestDoubleAllocFails(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()
	if err := f.Alloc(""); !errors.Is(err, ErrAlreadyAllocated) {
		t.Errorf("Expected ErrAlreadyAllocated, got %v", err)
	}
	if err := f.Attach(0, f.Size(), 0); !errors.Is(err, ErrAlreadyAllocated) {
		t.Errorf("Expected ErrAlreadyAllocated, got %v", err)
	}
}

func TestUnlockWhenNotLocked(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()
	if err := f.Unlock(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("Expected ErrNotLocked, got %v", err)
	}
}

func TestDoubleLockSameHandle(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()
	if err := f.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if err := f.TryLock(); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("Expected ErrAlreadyLocked, got %v", err)
	}
	if err := f.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
}

func TestCrossHandleLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.buf")

	f1, _ := NewFrame(8, 8, 0, "GREY")
	if err := f1.Alloc(path); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f1.Release()

	// A separate open file description is needed; a dup'd descriptor
	// would share f1's flock owner.
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	fd, err := unix.Dup(int(file.Fd()))
	file.Close()
	if err != nil {
		t.Fatalf("dup failed: %v", err)
	}

	f2, _ := NewFrame(8, 8, 0, "GREY")
	if err := f2.Attach(fd, f2.Size(), 0); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer f2.Release()

	if err := f1.TryLock(); err != nil {
		t.Fatalf("First lock failed: %v", err)
	}
	if err := f2.TryLock(); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("Expected ErrAlreadyLocked across handles, got %v", err)
	}
	if err := f1.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := f2.TryLock(); err != nil {
		t.Errorf("Lock after release failed: %v", err)
	}
}

func TestAttachRejectsBadDescriptor(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Attach(-1, f.Size(), 0); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Expected ErrInvalidDescriptor for negative fd, got %v", err)
	}
	if err := f.Attach(0, f.Size()-1, 0); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Expected ErrInvalidDescriptor for short size, got %v", err)
	}
}

func TestAttachPhysical(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.AttachPhysical(0x10000000); err != nil {
		t.Fatalf("AttachPhysical failed: %v", err)
	}
	paddr, ok := f.PhysAddr()
	if !ok || paddr != 0x10000000 {
		t.Errorf("Expected physical address 0x10000000, got %#x (ok=%v)", paddr, ok)
	}
	if _, ok := f.Handle(); ok {
		t.Error("Physical frame should not expose a descriptor")
	}
	if _, ok := f.Path(); ok {
		t.Error("Physical frame should not expose a path")
	}
	if err := f.TryLock(); !errors.Is(err, ErrNotLockable) {
		t.Errorf("Expected ErrNotLockable, got %v", err)
	}
	if _, err := f.Map(); !errors.Is(err, ErrNotLockable) {
		t.Errorf("Expected ErrNotLockable, got %v", err)
	}
}

func TestBackingAccessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.buf")
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(path); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	defer f.Release()

	if got, ok := f.Path(); !ok || got != path {
		t.Errorf("Expected path %q, got %q (ok=%v)", path, got, ok)
	}
	if _, ok := f.Handle(); !ok {
		t.Error("File-backed frame should expose a descriptor")
	}
	if _, ok := f.PhysAddr(); ok {
		t.Error("File-backed frame should not expose a physical address")
	}
}

func TestRetainRelease(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	if err := f.Alloc(""); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	f.Retain()
	f.Release() // drops the retain, buffer stays alive
	if _, err := f.Map(); err != nil {
		t.Errorf("Map after partial release failed: %v", err)
	}
	f.Release() // last reference frees the backing memory
	if _, ok := f.Handle(); ok {
		t.Error("Released frame should have no descriptor")
	}
}

func TestSetTiming(t *testing.T) {
	f, _ := NewFrame(8, 8, 0, "GREY")
	f.SetTiming(Timing{PTS: 100, DTS: 90, Duration: 33333})
	if f.PTS() != 100 || f.DTS() != 90 || f.Duration() != 33333 {
		t.Errorf("Timing mismatch: pts=%d dts=%d dur=%d", f.PTS(), f.DTS(), f.Duration())
	}
}
