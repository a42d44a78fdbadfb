package isotp

import "time"

// DefaultFlowControl is the Flow Control frame a receiver emits right
// after accepting a First frame when the caller has not customized
// pacing (§4.D default: continue, no block limit, 10ms separation).
func DefaultFlowControl(cfg *Config) Frame {
	return NewFlowControl(FCContinues, cfg.DefaultFCBlockSize, encodeSTmin(time.Duration(cfg.DefaultFCSTmin)*time.Millisecond))
}

// encodeSTmin converts a separation time into its wire encoding (§4.D):
// 0x00-0x7F for 0-127ms in 1ms steps, 0xF1-0xF9 for 100-900µs in 100µs
// steps. Values outside either range saturate to the nearest valid code.
func encodeSTmin(d time.Duration) uint8 {
	switch {
	case d <= 0:
		return 0x00
	case d < 1*time.Millisecond:
		steps := d / (100 * time.Microsecond)
		if steps < 1 {
			steps = 1
		}
		if steps > 9 {
			steps = 9
		}
		return 0xF0 | uint8(steps)
	case d <= 127*time.Millisecond:
		return uint8(d / time.Millisecond)
	default:
		return 0x7F
	}
}

// decodeSTmin converts an STmin wire byte into a separation time,
// treating reserved codes (0x80-0xF0, 0xFA-0xFF) as the maximum 127ms
// delay per §4.D's "reserved values fall back to the slowest defined
// pacing" rule, since ignoring an unknown code outright risks overrunning
// a receiver's buffer. 0x00 is normalized to 10ms by convention rather
// than taken as "no separation time", matching real ISO-TP stacks'
// reluctance to let a peer request back-to-back frames with zero
// spacing.
func decodeSTmin(b byte) time.Duration {
	switch {
	case b == 0x00:
		return 10 * time.Millisecond
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b&0x0F) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}

// flowCtrlState tracks the sender-side pacing budget derived from the
// last Flow Control frame received: how many Consecutive frames remain
// before another Flow Control is due, and how long to wait between each
// (§4.D, §5). A BlockSize of 0 means unlimited: the sender never waits
// for another Flow Control within the transfer.
type flowCtrlState struct {
	blockSize    uint8
	stMin        time.Duration
	sentInBlock  uint8
}

func newFlowCtrlState(fc Frame) flowCtrlState {
	return flowCtrlState{
		blockSize: fc.BlockSize,
		stMin:     decodeSTmin(fc.STmin),
	}
}

// blockExhausted reports whether the sender has emitted blockSize
// Consecutive frames since the last Flow Control and must wait for
// another one before sending more (§4.D block-size windowing). A
// blockSize of 0 never exhausts. A new window starts when resetWindow is
// called or when a new Flow Control replaces the state; the session does
// the latter, since newFlowCtrlState starts the count at 0. Open Question 2:
// the cleaner form re-enters WaitFlowCtrl after exactly blockSize CFs,
// rather than on an off-by-one (i mod block_size) == 0 check.
func (s *flowCtrlState) blockExhausted() bool {
	return s.blockSize != 0 && s.sentInBlock >= s.blockSize
}

// onConsecutiveSent advances the in-block counter by one.
func (s *flowCtrlState) onConsecutiveSent() {
	s.sentInBlock++
}

// resetWindow rolls the in-block counter back to 0, starting a fresh
// window once the sender has re-entered WaitFlowCtrl and received a new
// Flow Control.
func (s *flowCtrlState) resetWindow() {
	s.sentInBlock = 0
}
