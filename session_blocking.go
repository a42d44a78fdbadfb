package isotp

import "context"

// Write sends payload to the peer, occupying the calling goroutine for
// the entire transfer (§5 "Blocking flavor"). It is a spin-with-sleep
// loop under the hood (writeWaiting in session.go); there is no
// cooperative scheduler involved, matching the teacher's
// ReadRaw/WriteRaw helpers that loop with time.Sleep until the SDO
// transfer finishes or times out.
func (s *Session) Write(payload []byte) error {
	return s.transmit(context.Background(), payload, false)
}

// WriteFunctional sends payload using the functional (broadcast) address
// instead of tx_id. Only single-frame payloads may use it (§4.E,
// Open Question 1): a payload that segments into more than one frame
// fails with InvalidParam rather than silently falling back to physical
// addressing.
func (s *Session) WriteFunctional(payload []byte) error {
	return s.transmit(context.Background(), payload, true)
}
