// Package vsl implements zero-copy sharing of video frames across process
// and container boundaries on Linux.
//
// Frames are backed by descriptor-passable memory (memfd, shared files, or
// externally supplied dmabuf descriptors) and shared through a host/client
// protocol over a local SOCK_SEQPACKET unix socket. The host owns a pool of
// buffer slots and broadcasts frame-ready notifications; clients resolve
// those notifications into Frame handles bound to the same underlying
// memory, so pixel data is never copied between processes.
//
// # Roles
//
//   - Host: owns buffer slots, publishes frames, reclaims slots when every
//     consumer has released them or their lease expires.
//   - Client: subscribes to a host, receives notifications in publish order
//     and resolves them into mappable Frame handles.
//   - Encoder: a frame-to-frame transform stage (crop, re-encode) that
//     allocates free-standing output frames and never touches the socket.
//
// # Locking
//
// Frame locks are advisory (flock on the backing descriptor). Any holder of
// a handle can technically map the buffer regardless of lock state; the lock
// is a cooperative protocol between well-behaved producers and consumers,
// not OS-enforced isolation. TryLock never blocks.
//
// # Staleness
//
// A host force-reclaims a slot whose lease expired even if consumers still
// hold references. Every access through a previously resolved handle checks
// the slot generation and lease, so a late reader observes ErrStaleReference
// instead of the next occupant's data.
package vsl
