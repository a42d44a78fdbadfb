// Package virtual provides an in-memory isotp.Link used for tests,
// adapted from the teacher's TCP-backed virtual CAN bus
// (pkg/can/virtual/virtual.go): that bus ferries serialized frames
// between processes over a broker connection so several CANopen nodes
// can share one virtual segment without real hardware. This adapter
// keeps the same "shared bus, every attached endpoint sees every frame"
// model but drops the wire serialization and broker process, since two
// isotp peers under test live in the same process.
package virtual

import (
	"sync"

	"github.com/arcwave/isotp"
)

// Dispatcher is the subset of *isotp.Registry a Segment needs.
type Dispatcher interface {
	Dispatch(channel string, f isotp.LinkFrame)
	DispatchTransmitComplete(channel string, id uint32)
}

// Segment is a shared virtual bus: every Link attached to it observes
// every frame any attached Link enqueues, the same broadcast semantics
// the teacher's TCP broker provides between its connected clients.
type Segment struct {
	mu      sync.Mutex
	members []*Link
}

// NewSegment returns an empty virtual bus.
func NewSegment() *Segment {
	return &Segment{}
}

// Attach creates a new Link on this Segment reporting through dispatcher
// under channel. receiveOwn mirrors the teacher's SetReceiveOwn: when
// true, a Link also observes the frames it enqueues itself.
func (s *Segment) Attach(channel string, dispatcher Dispatcher, receiveOwn bool) *Link {
	l := &Link{
		segment:    s,
		channel:    channel,
		dispatcher: dispatcher,
		receiveOwn: receiveOwn,
	}
	s.mu.Lock()
	s.members = append(s.members, l)
	s.mu.Unlock()
	return l
}

func (s *Segment) broadcast(from *Link, f isotp.LinkFrame) {
	s.mu.Lock()
	members := append([]*Link(nil), s.members...)
	s.mu.Unlock()

	for _, m := range members {
		if m == from && !from.receiveOwn {
			continue
		}
		m.dispatcher.Dispatch(m.channel, f)
	}
}

// Link is one endpoint on a virtual Segment, implementing isotp.Link.
type Link struct {
	segment    *Segment
	channel    string
	dispatcher Dispatcher
	receiveOwn bool
}

// Enqueue implements isotp.Link: it broadcasts the frame to every other
// attached Link (and to this one too when receiveOwn is set) and
// immediately reports transmit-complete, since there is
// no real bus arbitration delay to model.
func (l *Link) Enqueue(f isotp.LinkFrame) bool {
	l.segment.broadcast(l, f)
	l.dispatcher.DispatchTransmitComplete(l.channel, f.ID)
	return true
}
