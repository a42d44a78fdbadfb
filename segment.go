package isotp

// Segment splits payload into the Frame sequence that transports it, per
// §4.B. A payload that fits in a Single frame's capacity becomes exactly
// one Single; anything larger becomes one First followed by as many
// Consecutive frames as needed, sequence numbers rotating 1..15,0,1,...
// (§4.B, mirrors the Rust original's append_consecutive rotation used in
// reverse for the sender side).
func Segment(payload []byte, cfg *Config) ([]Frame, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPdu
	}
	caps := cfg.capacities()
	if uint32(len(payload)) > caps.maxLength {
		return nil, lengthOutOfRange(len(payload))
	}

	if len(payload) <= caps.sfCapacity {
		return []Frame{NewSingle(payload)}, nil
	}

	ffCap := caps.ffCapacity
	if cfg.Dialect == Dialect2016 && len(payload) <= 0xFFF {
		// A total length that fits the 12-bit field goes out in the short
		// First form (2-byte header), which carries M-2 data bytes; M-6 is
		// only the 32-bit escape form's capacity.
		ffCap = int(cfg.MTU) - 2
	}

	frames := make([]Frame, 0, 1+(len(payload)/caps.cfCapacity)+1)
	frames = append(frames, NewFirst(uint32(len(payload)), payload[:ffCap]))

	remaining := payload[ffCap:]
	seq := uint8(1)
	for len(remaining) > 0 {
		n := caps.cfCapacity
		if n > len(remaining) {
			n = len(remaining)
		}
		frames = append(frames, NewConsecutive(seq, remaining[:n]))
		remaining = remaining[n:]
		seq = nextSequence(seq)
	}
	return frames, nil
}

// nextSequence rotates a consecutive-frame sequence number 1..15,0,1,...
// (§4.C), the sender-side mirror of the receiver's append_consecutive
// target computation.
func nextSequence(seq uint8) uint8 {
	if seq >= 0x0F {
		return 0
	}
	return seq + 1
}
