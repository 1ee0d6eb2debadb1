//go:build linux

package vsl

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// backingKind tags the concrete storage binding of a segment.
type backingKind int

const (
	backingAnonymous backingKind = iota // memfd, fd-backed but pathless
	backingFile                         // file at a shared path
	backingExternal                     // adopted dmabuf/file descriptor
	backingPhysical                     // hardware address, introspection only
)

func (k backingKind) String() string {
	switch k {
	case backingAnonymous:
		return "anonymous"
	case backingFile:
		return "file"
	case backingExternal:
		return "external"
	case backingPhysical:
		return "physical"
	default:
		return "unknown"
	}
}

// segment is the tagged variant behind a Frame's backing descriptor. The
// binding (kind, fd, path, paddr) is immutable after creation; only the map
// view and advisory lock change over its life.
type segment struct {
	kind   backingKind
	fd     int
	size   int
	offset int64
	path   string
	paddr  int64

	mu     sync.Mutex
	data   []byte // mmap base, nil while unmapped
	view   []byte // offset-adjusted slice of data, exactly size bytes
	rw     bool
	locked bool
}

// newAnonymousSegment allocates a pathless descriptor-backed segment via
// memfd_create so it can be passed over the socket and advisory-locked.
func newAnonymousSegment(size int) (*segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrAllocationFailed, size)
	}
	fd, err := unix.MemfdCreate("vsl-frame", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("%w: memfd_create: %v", ErrAllocationFailed, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate: %v", ErrAllocationFailed, err)
	}
	return &segment{kind: backingAnonymous, fd: fd, size: size}, nil
}

// newFileSegment creates (or truncates into shape) a file-backed segment at
// path so clients can resolve it by name instead of a passed descriptor.
func newFileSegment(path string, size int) (*segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrAllocationFailed, size)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrAllocationFailed, path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ftruncate %s: %v", ErrAllocationFailed, path, err)
	}
	return &segment{kind: backingFile, fd: fd, size: size, path: path}, nil
}

// openFileSegment resolves an existing shared mapping by path (client side).
func openFileSegment(path string) (*segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidDescriptor, path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil || st.Size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: stat %s: %v", ErrInvalidDescriptor, path, err)
	}
	return &segment{kind: backingFile, fd: fd, size: int(st.Size), path: path}, nil
}

// attachSegment adopts an externally supplied file or dmabuf descriptor.
// The segment takes ownership of fd and closes it on Close.
func attachSegment(fd int, size int, offset int64) (*segment, error) {
	if fd < 0 || size <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: fd=%d size=%d offset=%d", ErrInvalidDescriptor, fd, size, offset)
	}
	// Probe the descriptor without disturbing it.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("%w: fcntl: %v", ErrInvalidDescriptor, err)
	}
	return &segment{kind: backingExternal, fd: fd, size: size, offset: offset}, nil
}

// physicalSegment records a hardware-mapped buffer address. It cannot be
// mapped or locked from user space; accessors expose the address only.
func physicalSegment(paddr int64, size int) *segment {
	return &segment{kind: backingPhysical, fd: -1, size: size, paddr: paddr}
}

// mapView maps the descriptor into the process and returns a view of
// exactly size bytes. An existing read-only view is remapped when a
// writable one is requested.
func (s *segment) mapView(writable bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == backingPhysical || s.fd < 0 {
		return nil, ErrNotLockable
	}
	if s.view != nil {
		if s.rw || !writable {
			return s.view, nil
		}
		if err := s.unmapLocked(); err != nil {
			return nil, err
		}
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	// mmap requires a page-aligned offset; dmabuf offsets need not be.
	page := int64(os.Getpagesize())
	base := s.offset &^ (page - 1)
	skew := int(s.offset - base)

	data, err := unix.Mmap(s.fd, base, s.size+skew, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %v", ErrAllocationFailed, err)
	}
	s.data = data
	s.view = data[skew : skew+s.size]
	s.rw = writable
	return s.view, nil
}

func (s *segment) unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmapLocked()
}

func (s *segment) unmapLocked() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	s.view = nil
	s.rw = false
	return err
}

// tryLock takes the advisory cross-process lock without blocking.
func (s *segment) tryLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == backingPhysical || s.fd < 0 {
		return ErrNotLockable
	}
	if s.locked {
		return ErrAlreadyLocked
	}
	if err := unix.Flock(s.fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrAlreadyLocked
		}
		return fmt.Errorf("%w: flock: %v", ErrNotLockable, err)
	}
	s.locked = true
	return nil
}

func (s *segment) unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locked {
		return ErrNotLocked
	}
	s.locked = false
	return unix.Flock(s.fd, unix.LOCK_UN)
}

// dupFd duplicates the backing descriptor for passing over the socket.
func (s *segment) dupFd() (int, error) {
	if s.fd < 0 {
		return -1, ErrNotLockable
	}
	fd, err := unix.Dup(s.fd)
	if err != nil {
		return -1, fmt.Errorf("%w: dup: %v", ErrInvalidDescriptor, err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// close releases the map view, the advisory lock, and the descriptor.
// Cleanup is best-effort; the first error wins but never aborts the rest.
func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.unmapLocked()
	if s.locked {
		s.locked = false
		if e := unix.Flock(s.fd, unix.LOCK_UN); e != nil && err == nil {
			err = e
		}
	}
	if s.fd >= 0 {
		if e := unix.Close(s.fd); e != nil && err == nil {
			err = e
		}
		s.fd = -1
	}
	return err
}
