package isotp

import "context"

// WriteContext sends payload to the peer the same way Write does, but
// every suspension point (the st_min pace, the write_waiting backoff)
// also selects on ctx.Done() (§5 "Cooperative flavor"). Cancelling ctx
// leaves the session recoverable: the next Write/WriteContext call resets
// state to Idle, per §5's "MUST leave the session in a recoverable
// state". This mirrors the teacher's Process(ctx context.Context) server
// loop (pkg/sdo/server.go), which yields at a select{ case <-ctx.Done()
// } the same way.
func (s *Session) WriteContext(ctx context.Context, payload []byte) error {
	return s.transmit(ctx, payload, false)
}
