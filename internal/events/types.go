package events

// Event type constants for kelindar/event.
const (
	TypeFramePublished uint32 = iota + 1
	TypeFrameReleased
	TypeSlotReclaimed
	TypeClientConnected
	TypeClientDisconnected
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FramePublishedEvent is emitted when a host broadcasts a frame-ready
// notification.
type FramePublishedEvent struct {
	Serial  int64  `json:"serial"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Size    int    `json:"size"`
	Clients int    `json:"clients" doc:"Number of clients the notification was delivered to"`
}

// Type returns the event type identifier for FramePublishedEvent.
func (e FramePublishedEvent) Type() uint32 { return TypeFramePublished }

// FrameReleasedEvent is emitted when a client reports it is done with a
// serial.
type FrameReleasedEvent struct {
	Serial   int64  `json:"serial"`
	ClientID string `json:"client_id"`
}

// Type returns the event type identifier for FrameReleasedEvent.
func (e FrameReleasedEvent) Type() uint32 { return TypeFrameReleased }

// SlotReclaimedEvent is emitted when a buffer slot returns to the free
// pool, either because its reference count reached zero or because its
// lease expired with references still outstanding (Forced).
type SlotReclaimedEvent struct {
	Serial      int64 `json:"serial"`
	Forced      bool  `json:"forced"`
	Outstanding int   `json:"outstanding" doc:"References discarded by a forced reclaim"`
}

// Type returns the event type identifier for SlotReclaimedEvent.
func (e SlotReclaimedEvent) Type() uint32 { return TypeSlotReclaimed }

// ClientConnectedEvent is emitted when a client attaches to the host's
// channel.
type ClientConnectedEvent struct {
	ClientID string `json:"client_id"`
}

// Type returns the event type identifier for ClientConnectedEvent.
func (e ClientConnectedEvent) Type() uint32 { return TypeClientConnected }

// ClientDisconnectedEvent is emitted when a client's channel closes.
type ClientDisconnectedEvent struct {
	ClientID    string `json:"client_id"`
	Outstanding int    `json:"outstanding" doc:"Serials the client never released"`
}

// Type returns the event type identifier for ClientDisconnectedEvent.
func (e ClientDisconnectedEvent) Type() uint32 { return TypeClientDisconnected }
