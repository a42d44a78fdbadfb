package virtual_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwave/isotp"
	"github.com/arcwave/isotp/pkg/link/virtual"
)

type collector struct {
	mu       sync.Mutex
	received [][]byte
}

func (c *collector) OnEvent(e isotp.Event) {
	if e.Kind != isotp.EventDataReceived {
		return
	}
	c.mu.Lock()
	c.received = append(c.received, append([]byte(nil), e.Data...))
	c.mu.Unlock()
}

func (c *collector) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.received...)
}

// wire attaches two Sessions to one virtual Segment with swapped
// addresses so A's TxID is B's RxID and vice versa, the same pairing two
// real ECUs would use on a shared bus.
func wire(t *testing.T, cfg *isotp.Config) (a, b *isotp.Session, bEvents *collector) {
	t.Helper()
	registry := isotp.NewRegistry()
	segment := virtual.NewSegment()

	aEvents := &collector{}
	bEvents = &collector{}

	linkA := segment.Attach("can0", registry, false)
	linkB := segment.Attach("can0", registry, false)

	a = isotp.NewSession(isotp.Address{TxID: 0x7E0, RxID: 0x7E8}, cfg, "can0", linkA, registry, aEvents)
	b = isotp.NewSession(isotp.Address{TxID: 0x7E8, RxID: 0x7E0}, cfg, "can0", linkB, registry, bEvents)
	return a, b, bEvents
}

func TestVirtualLinkRoundTripsSingleFrame(t *testing.T) {
	cfg := isotp.DefaultConfig()
	cfg.Dialect = isotp.Dialect2004
	cfg.MTU = isotp.MTUClassical

	a, _, bEvents := wire(t, &cfg)
	require.NoError(t, a.Write([]byte{1, 2, 3, 4}))

	payloads := bEvents.payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, payloads[0])
}

func TestVirtualLinkRoundTripsMultiFrame(t *testing.T) {
	cfg := isotp.DefaultConfig()
	cfg.Dialect = isotp.Dialect2004
	cfg.MTU = isotp.MTUClassical

	a, _, bEvents := wire(t, &cfg)

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, a.Write(payload))

	payloads := bEvents.payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, payload, payloads[0])
}
