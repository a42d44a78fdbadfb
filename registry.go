package isotp

import (
	"sync"

	"golang.org/x/sys/unix"
)

// registryKey identifies one inbound or outbound slot: the link channel a
// frame arrives on or is sent on, and the CAN arbitration ID it concerns,
// masked the same way BusManager.Handle masks incoming frames before
// dispatch.
type registryKey struct {
	channel string
	id      uint32
}

type registrySub struct {
	id      uint64
	session *Session
}

// Registry is the dispatch indirection between a Link and the Sessions
// bound to it (§9 "Cyclic ownership"): the Link holds only a Registry
// handle, never a direct reference to any Session, and a Session never
// holds a direct reference back to the Link beyond what it needs to
// enqueue frames. This mirrors BusManager's array-of-subscribers design,
// generalized to a map since ISO-TP arbitration IDs may be 29-bit.
type Registry struct {
	mu    sync.Mutex
	nextID uint64
	byKey map[registryKey][]registrySub
}

// NewRegistry returns an empty dispatch registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[registryKey][]registrySub)}
}

func maskID(id uint32) uint32 {
	if id&unix.CAN_EFF_FLAG != 0 {
		return id & unix.CAN_EFF_MASK
	}
	return id & unix.CAN_SFF_MASK
}

func (r *Registry) bind(channel string, id uint32, s *Session) (key registryKey, subID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	subID = r.nextID
	key = registryKey{channel: channel, id: maskID(id)}
	r.byKey[key] = append(r.byKey[key], registrySub{id: subID, session: s})
	return key, subID
}

func (r *Registry) unbind(key registryKey, subID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.byKey[key]
	for i, sub := range subs {
		if sub.id == subID {
			r.byKey[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Register binds s to receive frames addressed to rxID, and to observe
// transmit-complete reports for txID and fid, on the given channel. The
// returned cancel func removes all three bindings; it is safe to call
// more than once.
func (r *Registry) Register(channel string, rxID, txID, fid uint32, s *Session) (cancel func()) {
	rxKey, rxSub := r.bind(channel, rxID, s)
	txKey, txSub := r.bind(channel, txID, s)

	var fidKey registryKey
	var fidSub uint64
	hasFID := fid != 0 && fid != txID
	if hasFID {
		fidKey, fidSub = r.bind(channel, fid, s)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unbind(rxKey, rxSub)
			r.unbind(txKey, txSub)
			if hasFID {
				r.unbind(fidKey, fidSub)
			}
		})
	}
}

func (r *Registry) subsFor(channel string, id uint32) []registrySub {
	key := registryKey{channel: channel, id: maskID(id)}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registrySub(nil), r.byKey[key]...)
}

// Dispatch routes one received LinkFrame to every Session registered for
// its channel and rx ID. A frame with nothing registered for it is
// dropped silently: an ISO-TP stack coexists on a bus with traffic
// belonging to other protocols.
func (r *Registry) Dispatch(channel string, f LinkFrame) {
	for _, sub := range r.subsFor(channel, f.ID) {
		sub.session.handleFrameReceived(f)
	}
}

// DispatchTransmitComplete notifies every Session registered under id
// (tx_id or fid) that the link finished transmitting a frame with that
// arbitration ID.
func (r *Registry) DispatchTransmitComplete(channel string, id uint32) {
	for _, sub := range r.subsFor(channel, id) {
		sub.session.handleTransmitComplete(id)
	}
}
