// Package socketcan adapts a Linux SocketCAN interface to the isotp.Link
// collaborator contract, grounded on the teacher's SocketcanBus
// (pkg/can/socketcan/socketcan.go, root socketcan.go): same
// brutella/can.Bus wrapping and the same "Handle" trampoline shape for
// inbound frames, retargeted at isotp.LinkFrame instead of the teacher's
// own Frame type.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/arcwave/isotp"
)

// Dispatcher is the subset of *isotp.Registry a Bus needs to hand
// received frames and transmit-complete reports onward, kept as an
// interface so tests can supply a fake.
type Dispatcher interface {
	Dispatch(channel string, f isotp.LinkFrame)
	DispatchTransmitComplete(channel string, id uint32)
}

// Bus wraps a brutella/can.Bus as an isotp.Link bound to one channel
// name. It both sends (Enqueue) and receives (Handle, invoked by
// brutella/can's own dispatch goroutine) on the same SocketCAN interface.
// brutella/can frames are fixed at 8 data bytes, so this adapter only
// supports MTUClassical sessions; a CAN-FD deployment needs a different
// driver underneath the same isotp.Link contract.
type Bus struct {
	bus        *sockcan.Bus
	channel    string
	dispatcher Dispatcher
}

// New opens the named SocketCAN interface (e.g. "can0") and wires it to
// report through dispatcher under channel.
func New(ifaceName string, channel string, dispatcher Dispatcher) (*Bus, error) {
	raw, err := sockcan.NewBusForInterfaceWithName(ifaceName)
	if err != nil {
		return nil, err
	}
	b := &Bus{bus: raw, channel: channel, dispatcher: dispatcher}
	b.bus.Subscribe(b)
	return b, nil
}

// Connect starts the receive loop. It mirrors the teacher's
// "go socketcan.bus.ConnectAndPublish()" trampoline: brutella/can owns
// the blocking read loop, so it is always backgrounded.
func (b *Bus) Connect() {
	go b.bus.ConnectAndPublish()
}

// Disconnect closes the underlying SocketCAN socket.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Enqueue implements isotp.Link. brutella/can's Publish is itself
// non-blocking from the caller's perspective (it writes directly to the
// socket), so failures surface as a returned error rather than a full
// queue; either way we report false on failure per the Link contract.
func (b *Bus) Enqueue(f isotp.LinkFrame) bool {
	frame := sockcan.Frame{
		ID:     f.ID,
		Length: uint8(len(f.Data)),
		Data:   dataArray(f.Data),
	}
	if err := b.bus.Publish(frame); err != nil {
		return false
	}
	b.dispatcher.DispatchTransmitComplete(b.channel, f.ID)
	return true
}

// Handle is brutella/can's inbound-frame callback (the "Handle"
// interface it expects a subscriber to implement, same as the teacher's
// SocketcanBus.Handle).
func (b *Bus) Handle(frame sockcan.Frame) {
	data := make([]byte, frame.Length)
	copy(data, frame.Data[:frame.Length])
	b.dispatcher.Dispatch(b.channel, isotp.LinkFrame{ID: frame.ID, Data: data, Channel: b.channel})
}

func dataArray(data []byte) [8]byte {
	var out [8]byte
	copy(out[:], data)
	return out
}
