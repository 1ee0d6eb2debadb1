package vsl

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// clientQueueSize bounds the pending-notification queue. The host drops
// frames for clients that fall further behind than its own queue, so this
// only needs to absorb scheduling jitter.
const clientQueueSize = 64

// clientRef is the staleness state shared between a resolved frame and the
// reader goroutine that may revoke it.
type clientRef struct {
	expires int64
	revoked atomic.Bool
}

// Client subscribes to one host's publish channel and resolves frame-ready
// notifications into Frame handles bound to the shared backing memory.
// GetFrame may be called from one goroutine at a time; the handles it
// returns are independent of each other.
type Client struct {
	conn   *net.UnixConn
	logger *slog.Logger
	notifs chan *notification

	mu         sync.Mutex
	retained   map[int64]*clientRef
	lastSerial int64

	closed    chan struct{}
	closeOnce sync.Once
}

// Connect attaches to the host rendezvous socket at path.
func Connect(path string) (*Client, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	c := &Client{
		conn:     conn,
		logger:   slog.With("component", "vsl_client"),
		notifs:   make(chan *notification, clientQueueSize),
		retained: make(map[int64]*clientRef),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop receives protocol records and queues frame-ready notifications.
// Revokes are applied immediately so retained handles turn stale even while
// nobody is inside GetFrame.
func (c *Client) readLoop() {
	buf := make([]byte, maxWireSize)
	oob := make([]byte, unix.CmsgSpace(4*4))
	for {
		n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
		if err != nil {
			c.closeOnce.Do(func() { close(c.closed) })
			return
		}
		kind, serial, err := decodeControl(buf[:n])
		if err != nil {
			c.logger.Warn("bad record from host", "error", err)
			continue
		}

		switch kind {
		case msgRevoke:
			c.mu.Lock()
			if ref, ok := c.retained[serial]; ok {
				ref.revoked.Store(true)
			}
			c.mu.Unlock()

		case msgFrameReady:
			notif, err := decodeNotification(buf[:n])
			if err != nil {
				c.logger.Warn("bad notification from host", "error", err)
				closeRights(oob[:oobn])
				continue
			}
			if fds := parseRights(oob[:oobn]); len(fds) > 0 {
				notif.fd = fds[0]
				for _, fd := range fds[1:] {
					unix.Close(fd)
				}
			}
			select {
			case c.notifs <- notif:
			default:
				// Queue full: give the reference straight back.
				c.logger.Warn("notification queue full, dropping frame", "serial", notif.serial)
				c.discard(notif)
			}

		default:
			c.logger.Warn("unexpected record kind from host", "kind", kind)
		}
	}
}

// GetFrame blocks the calling goroutine until a notification arrives or
// timeout elapses, then resolves it into a Frame bound to the shared
// backing memory. Notifications arrive in publish order; duplicates and
// serials at or below the last observed one are dropped silently.
func (c *Client) GetFrame(timeout time.Duration) (*Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case notif := <-c.notifs:
			c.mu.Lock()
			stale := notif.serial <= c.lastSerial
			if !stale {
				c.lastSerial = notif.serial
			}
			c.mu.Unlock()
			if stale {
				c.discard(notif)
				continue
			}
			return c.resolve(notif)
		case <-timer.C:
			return nil, ErrTimeout
		case <-c.closed:
			return nil, ErrConnectionClosed
		}
	}
}

// resolve binds a notification to local memory: attaching the received
// descriptor, or mapping the shared file when the host published by path.
func (c *Client) resolve(n *notification) (*Frame, error) {
	var (
		seg *segment
		err error
	)
	switch {
	case n.fd >= 0:
		seg, err = attachSegment(n.fd, n.size, n.offset)
		if err != nil {
			unix.Close(n.fd)
			return nil, err
		}
	case n.path != "":
		seg, err = openFileSegment(n.path)
		if err != nil {
			return nil, err
		}
		if seg.size < n.size {
			_ = seg.close()
			return nil, fmt.Errorf("%w: mapping %s smaller than frame", ErrInvalidDescriptor, n.path)
		}
		seg.size = n.size
	default:
		return nil, fmt.Errorf("%w: notification carries neither descriptor nor path", ErrInvalidDescriptor)
	}

	f := &Frame{
		code:    n.code,
		width:   n.width,
		height:  n.height,
		stride:  n.stride,
		size:    n.size,
		serial:  n.serial,
		created: n.created,
		timing:  n.timing,
		expires: n.expires,
		refs:    1,
	}
	ref := &clientRef{expires: n.expires}
	serial := n.serial
	f.bind(seg, n.serial, n.expires, func() error {
		if ref.revoked.Load() {
			return ErrStaleReference
		}
		if ref.expires > 0 && Timestamp() > ref.expires {
			return ErrStaleReference
		}
		return nil
	}, func(fr *Frame) {
		// The segment is this handle's private mapping, so closing it is
		// always safe regardless of the slot's state on the host side.
		fr.mu.Lock()
		fr.locked = false
		s := fr.seg
		fr.seg = nil
		fr.mu.Unlock()
		if s != nil {
			_ = s.close()
		}
		c.release(serial)
	})

	c.mu.Lock()
	c.retained[serial] = ref
	c.mu.Unlock()
	return f, nil
}

// discard returns an undeliverable notification's reference to the host.
func (c *Client) discard(n *notification) {
	if n.fd >= 0 {
		unix.Close(n.fd)
	}
	c.release(n.serial)
}

// release tells the host this client is done with serial. Best-effort: a
// lost release is recovered by the host's lease expiry.
func (c *Client) release(serial int64) {
	c.mu.Lock()
	delete(c.retained, serial)
	c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}
	if _, err := c.conn.Write(encodeControl(msgRelease, serial)); err != nil {
		c.logger.Debug("release not delivered", "serial", serial, "error", err)
	}
}

// Close disconnects from the host. Frames already resolved stay valid until
// released or until their backing slot is force-reclaimed; the descriptors
// they hold are independent of the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	err := c.conn.Close()

	// Drain anything the reader queued before it noticed the close.
	for {
		select {
		case n := <-c.notifs:
			if n.fd >= 0 {
				unix.Close(n.fd)
			}
		default:
			return err
		}
	}
}

// parseRights extracts descriptors passed via SCM_RIGHTS.
func parseRights(oob []byte) []int {
	if len(oob) == 0 {
		return nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds
}

// closeRights closes descriptors attached to a record we could not use.
func closeRights(oob []byte) {
	for _, fd := range parseRights(oob) {
		unix.Close(fd)
	}
}
