package vsl

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/smazurov/videostream/internal/events"
)

// HostConfig configures a publishing host.
type HostConfig struct {
	// SocketPath is the rendezvous address clients connect to. Required.
	SocketPath string

	// PoolSize bounds the number of buffer slots. Defaults to 8.
	PoolSize int

	// Lease is how long a published frame stays valid before the host may
	// force-reclaim its slot despite outstanding references. Defaults to 2s.
	Lease time.Duration

	// ShmDir, when set, backs slots with files under this directory so
	// clients resolve buffers by path instead of a passed descriptor.
	ShmDir string

	// QueueSize bounds each client's notification send queue. A client
	// that falls further behind misses frames. Defaults to 32.
	QueueSize int

	// Logger receives host logs; slog.Default is used when nil.
	Logger *slog.Logger

	// Bus receives lifecycle events; nil disables event publishing.
	Bus *events.Bus
}

func (c *HostConfig) defaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "vsl_host")
	}
}

// Slot states. A slot moves Free -> Allocated -> Published -> Free, with
// Allocated reachable directly back to Free when never published.
type slotState int

const (
	slotFree slotState = iota
	slotAllocated
	slotPublished
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotAllocated:
		return "allocated"
	case slotPublished:
		return "published"
	default:
		return "unknown"
	}
}

// slot is one reusable buffer in the host's pool. gen is bumped on every
// reallocation and forced reclaim; frames remember the gen they were bound
// under and refuse access once it moves on. gen and expiry are atomics so
// frame validation never takes the host lock.
type slot struct {
	index   int
	state   slotState
	serial  int64
	refs    int
	seg     *segment
	frame   *Frame
	gen     atomic.Uint64
	expires atomic.Int64 // lease deadline in microseconds, 0 = no lease
}

type outMsg struct {
	payload []byte
	fd      int // dup'd descriptor to pass along, -1 for none
}

// hostClient is the host's view of one connected subscriber.
type hostClient struct {
	id          string
	conn        *net.UnixConn
	sendq       chan outMsg
	outstanding map[int64]struct{} // serials delivered and not yet released
}

// Host owns a pool of frame buffers and the publish side of the sharing
// protocol. Producers obtain frames with NewFrame, fill them, and Publish
// them; every connected client receives a frame-ready notification carrying
// the backing descriptor or path.
type Host struct {
	cfg    HostConfig
	logger *slog.Logger
	bus    *events.Bus
	ln     *net.UnixListener

	mu      sync.Mutex
	slots   []*slot
	clients map[string]*hostClient
	serial  int64
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHost binds the rendezvous socket and starts serving clients. Slots are
// allocated lazily up to cfg.PoolSize.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("vsl: host socket path is required")
	}
	cfg.defaults()

	// A stale socket from a crashed host would fail the bind.
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("vsl: remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: cfg.SocketPath, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("vsl: listen %s: %w", cfg.SocketPath, err)
	}

	h := &Host{
		cfg:     cfg,
		logger:  cfg.Logger,
		bus:     cfg.Bus,
		ln:      ln,
		clients: make(map[string]*hostClient),
		done:    make(chan struct{}),
	}
	h.wg.Add(2)
	go h.acceptLoop()
	go h.janitor()
	h.logger.Info("host listening", "socket", cfg.SocketPath, "pool_size", cfg.PoolSize, "lease", cfg.Lease)
	return h, nil
}

// NewFrame obtains a free buffer slot, reusing a released one when its
// buffer matches, and returns an unpublished frame bound to it. The
// producer fills the frame before calling Publish. Fails with
// ErrPoolExhausted when every slot is busy and unexpired.
func (h *Host) NewFrame(width, height int, format string, t Timing) (*Frame, error) {
	f, err := NewFrame(width, height, 0, format)
	if err != nil {
		return nil, err
	}
	f.SetTiming(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}

	s := h.takeSlotLocked(f.size)
	if s == nil {
		return nil, ErrPoolExhausted
	}
	if s.seg == nil {
		seg, err := h.allocSegmentLocked(s, f.size)
		if err != nil {
			s.state = slotFree
			return nil, err
		}
		s.seg = seg
	}

	gen := s.gen.Add(1)
	s.state = slotAllocated
	s.refs = 1 // the producer's handle
	s.serial = 0
	s.expires.Store(0)
	s.frame = f

	f.bind(s.seg, 0, 0, h.slotValidator(s, gen), func(fr *Frame) {
		h.releaseHostFrame(s, gen, fr)
	})
	return f, nil
}

// takeSlotLocked picks a free slot, preferring one whose buffer already has
// the right size, and grows the pool while under the cap.
func (h *Host) takeSlotLocked(size int) *slot {
	var fallback *slot
	for _, s := range h.slots {
		if s.state != slotFree {
			continue
		}
		if s.seg != nil && s.seg.size == size {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	if fallback != nil {
		if fallback.seg != nil && fallback.seg.size != size {
			_ = fallback.seg.close()
			fallback.seg = nil
		}
		return fallback
	}
	if len(h.slots) < h.cfg.PoolSize {
		s := &slot{index: len(h.slots), seg: nil}
		h.slots = append(h.slots, s)
		return s
	}
	return nil
}

func (h *Host) allocSegmentLocked(s *slot, size int) (*segment, error) {
	if h.cfg.ShmDir == "" {
		return newAnonymousSegment(size)
	}
	// The file outlives the slot's current occupant and is reused across
	// generations, so the name carries only the stable slot identity.
	name := fmt.Sprintf("vsl-%d-%d", os.Getpid(), s.index)
	return newFileSegment(filepath.Join(h.cfg.ShmDir, name), size)
}

// slotValidator builds the per-handle staleness check: the slot generation
// must still match and the lease must not have run out.
func (h *Host) slotValidator(s *slot, gen uint64) func() error {
	return func() error {
		if s.gen.Load() != gen {
			return ErrStaleReference
		}
		if exp := s.expires.Load(); exp > 0 && Timestamp() > exp {
			return ErrStaleReference
		}
		return nil
	}
}

// Publish marks the frame ready, assigns a fresh serial, stamps the lease,
// and broadcasts a ready notification to every connected client. It never
// blocks on slow clients; a client whose queue is full misses the frame.
func (h *Host) Publish(f *Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}

	var s *slot
	for _, cand := range h.slots {
		if cand.frame == f {
			s = cand
			break
		}
	}
	if s == nil || s.state != slotAllocated {
		return fmt.Errorf("vsl: frame is not an unpublished host frame")
	}

	h.serial++
	serial := h.serial
	expires := Timestamp() + h.cfg.Lease.Microseconds()

	s.state = slotPublished
	s.serial = serial
	s.expires.Store(expires)
	f.setPublished(serial, expires)

	n := &notification{
		kind:    msgFrameReady,
		serial:  serial,
		code:    f.code,
		width:   f.width,
		height:  f.height,
		stride:  f.stride,
		size:    f.size,
		created: f.created,
		timing:  f.timing,
		expires: expires,
		offset:  s.seg.offset,
	}
	if s.seg.kind == backingFile {
		n.path = s.seg.path
	}
	payload, err := encodeNotification(n)
	if err != nil {
		return err
	}

	delivered := 0
	for _, c := range h.clients {
		fd := -1
		if n.path == "" {
			fd, err = s.seg.dupFd()
			if err != nil {
				h.logger.Warn("dup backing descriptor failed", "client", c.id, "error", err)
				continue
			}
		}
		select {
		case c.sendq <- outMsg{payload: payload, fd: fd}:
			s.refs++
			c.outstanding[serial] = struct{}{}
			delivered++
		default:
			if fd >= 0 {
				unix.Close(fd)
			}
			h.logger.Warn("client queue full, dropping notification", "client", c.id, "serial", serial)
		}
	}

	h.logger.Debug("frame published", "serial", serial, "format", f.code.String(), "clients", delivered)
	h.bus.Publish(events.FramePublishedEvent{
		Serial:  serial,
		Format:  f.code.String(),
		Width:   f.width,
		Height:  f.height,
		Size:    f.size,
		Clients: delivered,
	})
	return nil
}

// releaseHostFrame handles the producer handle's last release. The slot
// segment is shared across generations, so only the generation-current
// handle may unlock or unmap it; a handle outlived by a forced reclaim
// detaches without touching memory the slot's next occupant now owns.
func (h *Host) releaseHostFrame(s *slot, gen uint64, f *Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.gen.Load() != gen {
		// Slot was force-reclaimed already.
		f.mu.Lock()
		f.locked = false
		f.seg = nil
		f.mu.Unlock()
		return
	}

	f.mu.Lock()
	if f.locked {
		f.locked = false
		if f.seg != nil {
			_ = f.seg.unlock()
		}
	}
	if f.seg != nil {
		_ = f.seg.unmap()
	}
	f.seg = nil
	f.mu.Unlock()

	s.frame = nil
	s.refs--
	if s.refs <= 0 {
		h.freeSlotLocked(s, false, 0)
	}
}

// releaseSerialLocked drops one client reference for serial.
func (h *Host) releaseSerialLocked(serial int64, c *hostClient) {
	if _, ok := c.outstanding[serial]; !ok {
		return // duplicate or stale release
	}
	delete(c.outstanding, serial)
	h.bus.Publish(events.FrameReleasedEvent{Serial: serial, ClientID: c.id})

	for _, s := range h.slots {
		if s.state == slotPublished && s.serial == serial {
			s.refs--
			if s.refs <= 0 {
				h.freeSlotLocked(s, false, 0)
			}
			return
		}
	}
}

// freeSlotLocked returns a slot to the pool. The backing segment is kept
// for reuse; only Close tears it down.
func (h *Host) freeSlotLocked(s *slot, forced bool, outstanding int) {
	serial := s.serial
	s.state = slotFree
	s.refs = 0
	s.serial = 0
	s.frame = nil
	s.expires.Store(0)
	h.bus.Publish(events.SlotReclaimedEvent{Serial: serial, Forced: forced, Outstanding: outstanding})
}

// janitor force-reclaims slots whose lease ran out while references were
// still outstanding. Late readers fail the generation check instead of
// observing the slot's next occupant.
func (h *Host) janitor() {
	defer h.wg.Done()
	interval := h.cfg.Lease / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.reclaimExpired()
		}
	}
}

func (h *Host) reclaimExpired() {
	now := Timestamp()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, s := range h.slots {
		if s.state != slotPublished {
			continue
		}
		if exp := s.expires.Load(); exp == 0 || now <= exp {
			continue
		}
		serial := s.serial
		outstanding := s.refs
		s.gen.Add(1)
		h.logger.Warn("lease expired, force-reclaiming slot",
			"slot", s.index, "serial", serial, "outstanding", outstanding)

		revoke := encodeControl(msgRevoke, serial)
		for _, c := range h.clients {
			if _, ok := c.outstanding[serial]; !ok {
				continue
			}
			delete(c.outstanding, serial)
			select {
			case c.sendq <- outMsg{payload: revoke, fd: -1}:
			default:
			}
		}
		h.freeSlotLocked(s, true, outstanding)
	}
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.ln.AcceptUnix()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
				h.logger.Error("accept failed", "error", err)
				return
			}
		}

		c := &hostClient{
			id:          uuid.NewString(),
			conn:        conn,
			sendq:       make(chan outMsg, h.cfg.QueueSize),
			outstanding: make(map[int64]struct{}),
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.clients[c.id] = c
		h.mu.Unlock()

		h.logger.Info("client connected", "client", c.id)
		h.bus.Publish(events.ClientConnectedEvent{ClientID: c.id})

		h.wg.Add(2)
		go h.clientWriter(c)
		go h.clientReader(c)
	}
}

// clientWriter drains the client's queue in order, preserving the publish
// order guarantee per client.
func (h *Host) clientWriter(c *hostClient) {
	defer h.wg.Done()
	for msg := range c.sendq {
		var oob []byte
		if msg.fd >= 0 {
			oob = unix.UnixRights(msg.fd)
		}
		_, _, err := c.conn.WriteMsgUnix(msg.payload, oob, nil)
		if msg.fd >= 0 {
			unix.Close(msg.fd)
		}
		if err != nil {
			h.logger.Debug("client write failed", "client", c.id, "error", err)
			h.dropClient(c)
			// Keep draining so queued descriptors are closed.
		}
	}
}

// clientReader consumes release records until the peer goes away.
func (h *Host) clientReader(c *hostClient) {
	defer h.wg.Done()
	buf := make([]byte, fixedControl)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			h.dropClient(c)
			return
		}
		kind, serial, err := decodeControl(buf[:n])
		if err != nil || kind != msgRelease {
			h.logger.Warn("unexpected record from client", "client", c.id, "error", err)
			continue
		}
		h.mu.Lock()
		h.releaseSerialLocked(serial, c)
		h.mu.Unlock()
	}
}

// dropClient disconnects a client and releases everything it still held.
func (h *Host) dropClient(c *hostClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	outstanding := len(c.outstanding)
	for serial := range c.outstanding {
		h.releaseSerialLocked(serial, c)
	}
	close(c.sendq)
	h.mu.Unlock()

	c.conn.Close()
	h.logger.Info("client disconnected", "client", c.id, "outstanding", outstanding)
	h.bus.Publish(events.ClientDisconnectedEvent{ClientID: c.id, Outstanding: outstanding})
}

// drainQueue closes descriptors left in a dead client's queue.
func drainQueue(q chan outMsg) {
	for msg := range q {
		if msg.fd >= 0 {
			unix.Close(msg.fd)
		}
	}
}

// SlotInfo is a point-in-time view of one pool slot.
type SlotInfo struct {
	Index   int    `json:"index"`
	State   string `json:"state"`
	Serial  int64  `json:"serial"`
	Refs    int    `json:"refs"`
	Expires int64  `json:"expires"`
	Size    int    `json:"size"`
}

// ClientInfo is a point-in-time view of one connected client.
type ClientInfo struct {
	ID          string `json:"id"`
	Outstanding int    `json:"outstanding"`
}

// HostStats is a snapshot of the host's pool and subscribers.
type HostStats struct {
	SocketPath string       `json:"socket_path"`
	LastSerial int64        `json:"last_serial"`
	Slots      []SlotInfo   `json:"slots"`
	Clients    []ClientInfo `json:"clients"`
}

// Stats snapshots the pool and client state for introspection.
func (h *Host) Stats() HostStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := HostStats{
		SocketPath: h.cfg.SocketPath,
		LastSerial: h.serial,
		Slots:      make([]SlotInfo, 0, len(h.slots)),
		Clients:    make([]ClientInfo, 0, len(h.clients)),
	}
	for _, s := range h.slots {
		size := 0
		if s.seg != nil {
			size = s.seg.size
		}
		st.Slots = append(st.Slots, SlotInfo{
			Index:   s.index,
			State:   s.state.String(),
			Serial:  s.serial,
			Refs:    s.refs,
			Expires: s.expires.Load(),
			Size:    size,
		})
	}
	for _, c := range h.clients {
		st.Clients = append(st.Clients, ClientInfo{ID: c.id, Outstanding: len(c.outstanding)})
	}
	return st
}

// Close shuts the host down: the listener stops, clients are disconnected,
// and every backing segment is freed. Published frames held by remote
// clients stay readable until they release them; the descriptors passed to
// them remain valid independent of this process.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*hostClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*hostClient)
	for _, c := range clients {
		close(c.sendq)
	}
	h.mu.Unlock()

	close(h.done)
	h.ln.Close()
	for _, c := range clients {
		c.conn.Close()
		go drainQueue(c.sendq)
	}
	h.wg.Wait()

	h.mu.Lock()
	for _, s := range h.slots {
		s.gen.Add(1)
		if s.seg != nil {
			if s.seg.kind == backingFile {
				_ = os.Remove(s.seg.path)
			}
			_ = s.seg.close()
			s.seg = nil
		}
		s.state = slotFree
	}
	h.mu.Unlock()

	_ = os.Remove(h.cfg.SocketPath)
	h.logger.Info("host closed", "socket", h.cfg.SocketPath)
	return nil
}
