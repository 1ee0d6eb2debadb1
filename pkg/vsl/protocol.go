package vsl

import (
	"encoding/binary"
	"fmt"
)

// Wire format of the local sharing channel. Each SOCK_SEQPACKET message is
// one of the records below, little-endian, with the backing descriptor for
// frame-ready records passed out-of-band via SCM_RIGHTS when the buffer has
// no filesystem path.
const (
	msgFrameReady = 0x01 // host -> client: a frame is ready for reading
	msgRevoke     = 0x02 // host -> client: a slot was force-reclaimed
	msgRelease    = 0x03 // client -> host: done with a serial
)

const (
	protoMagic   = 0x56534c31 // "VSL1"
	maxPathLen   = 4096
	maxWireSize  = 64 + maxPathLen
	fixedNotify  = 4 + 1 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 2
	fixedControl = 4 + 1 + 8
)

// notification is the decoded content of a frame-ready or revoke record.
type notification struct {
	kind    byte
	serial  int64
	code    FourCC
	width   int
	height  int
	stride  int
	size    int
	created int64
	timing  Timing
	expires int64
	offset  int64
	path    string // set when the backing memory resolves by path
	fd      int    // received descriptor, -1 when path-resolved
}

func encodeNotification(n *notification) ([]byte, error) {
	if len(n.path) > maxPathLen {
		return nil, fmt.Errorf("%w: path too long", ErrInvalidDescriptor)
	}
	buf := make([]byte, 0, fixedNotify+len(n.path))
	buf = binary.LittleEndian.AppendUint32(buf, protoMagic)
	buf = append(buf, n.kind)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.serial))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.code))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.width))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.height))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.stride))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.size))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.created))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.timing.PTS))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.timing.DTS))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.timing.Duration))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.expires))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(n.offset))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n.path)))
	buf = append(buf, n.path...)
	return buf, nil
}

func decodeNotification(buf []byte) (*notification, error) {
	if len(buf) < fixedNotify {
		return nil, fmt.Errorf("vsl: short notification record (%d bytes)", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:]) != protoMagic {
		return nil, fmt.Errorf("vsl: bad protocol magic")
	}
	n := &notification{
		kind:    buf[4],
		serial:  int64(binary.LittleEndian.Uint64(buf[5:])),
		code:    FourCC(binary.LittleEndian.Uint32(buf[13:])),
		width:   int(binary.LittleEndian.Uint32(buf[17:])),
		height:  int(binary.LittleEndian.Uint32(buf[21:])),
		stride:  int(binary.LittleEndian.Uint32(buf[25:])),
		size:    int(binary.LittleEndian.Uint64(buf[29:])),
		created: int64(binary.LittleEndian.Uint64(buf[37:])),
		expires: int64(binary.LittleEndian.Uint64(buf[69:])),
		offset:  int64(binary.LittleEndian.Uint64(buf[77:])),
		fd:      -1,
	}
	n.timing = Timing{
		PTS:      int64(binary.LittleEndian.Uint64(buf[45:])),
		DTS:      int64(binary.LittleEndian.Uint64(buf[53:])),
		Duration: int64(binary.LittleEndian.Uint64(buf[61:])),
	}
	pathLen := int(binary.LittleEndian.Uint16(buf[85:]))
	if pathLen > 0 {
		if len(buf) < fixedNotify+pathLen {
			return nil, fmt.Errorf("vsl: truncated notification path")
		}
		n.path = string(buf[fixedNotify : fixedNotify+pathLen])
	}
	return n, nil
}

// encodeControl builds a revoke or release record carrying only a serial.
func encodeControl(kind byte, serial int64) []byte {
	buf := make([]byte, 0, fixedControl)
	buf = binary.LittleEndian.AppendUint32(buf, protoMagic)
	buf = append(buf, kind)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(serial))
	return buf
}

func decodeControl(buf []byte) (byte, int64, error) {
	if len(buf) < fixedControl {
		return 0, 0, fmt.Errorf("vsl: short control record (%d bytes)", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:]) != protoMagic {
		return 0, 0, fmt.Errorf("vsl: bad protocol magic")
	}
	return buf[4], int64(binary.LittleEndian.Uint64(buf[5:])), nil
}
