package isotp

import "github.com/arcwave/isotp/internal/ringbuf"

// Outcome is the result of feeding one Frame into a Reassembler, a closed
// sum type mirroring the Rust original's IsoTpContext transition result
// (context.rs): a multi-frame transfer either keeps waiting, has just
// received its First frame (so a Flow Control reply is due), has just
// completed, or has failed outright.
type Outcome struct {
	Kind OutcomeKind
	Data []byte
	Err  error
}

type OutcomeKind uint8

const (
	OutcomeWait OutcomeKind = iota
	OutcomeFirstReceived
	OutcomeComplete
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeWait:
		return "Wait"
	case OutcomeFirstReceived:
		return "FirstReceived"
	case OutcomeComplete:
		return "Complete"
	case OutcomeFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Reassembler accumulates the Frame sequence of one inbound transfer into
// its original payload, per §4.C. It holds no concurrency primitives of
// its own: the session engine is responsible for serializing calls to
// Feed, exactly as IsoTpContext in the Rust original is driven from a
// single caller under SyncCanIsoTp's state lock. Accumulation goes
// through a fixed-capacity ring (internal/ringbuf, adapted from the
// teacher's Fifo) so a forged total_length cannot force an unbounded
// allocation.
type Reassembler struct {
	maxSize        uint32
	expectedLength uint32
	nextSeq        uint8
	ring           *ringbuf.Ring
	active         bool
}

// NewReassembler returns a Reassembler whose accumulation buffer is
// capped at cfg.MaxReassemblySize.
func NewReassembler(cfg *Config) *Reassembler {
	return &Reassembler{
		maxSize: cfg.MaxReassemblySize,
		ring:    ringbuf.New(int(cfg.MaxReassemblySize)),
	}
}

// Reset discards any in-progress transfer, used when the session engine
// aborts or times out a reassembly in progress (§7, §8).
func (r *Reassembler) Reset() {
	r.expectedLength = 0
	r.nextSeq = 0
	r.active = false
	r.ring.Reset()
}

func (r *Reassembler) drain() []byte {
	out := make([]byte, r.ring.Occupied())
	r.ring.Read(out)
	return out
}

// Feed advances reassembly by one Frame. A Single always completes
// immediately and on its own, independent of any multi-frame transfer
// already in progress: it neither consumes nor resets that transfer's
// state, which keeps accumulating if more Consecutive frames arrive for
// it afterward.
func (r *Reassembler) Feed(f Frame) Outcome {
	switch f.Kind {
	case KindSingle:
		// A Single always completes immediately, regardless of any
		// multi-frame transfer already in progress; it does not touch
		// that transfer's buffer, which keeps accumulating if more
		// Consecutive frames for it arrive afterward.
		return Outcome{Kind: OutcomeComplete, Data: append([]byte(nil), f.Data...)}

	case KindFirst:
		if r.active {
			r.Reset()
		}
		if f.TotalLength > r.maxSize {
			return Outcome{Kind: OutcomeFail, Err: invalidDataLength(int(f.TotalLength), int(r.maxSize))}
		}
		r.expectedLength = f.TotalLength
		r.nextSeq = 1
		r.active = true
		if n := r.ring.Write(f.Data); n < len(f.Data) {
			r.Reset()
			return Outcome{Kind: OutcomeFail, Err: invalidDataLength(len(f.Data), n)}
		}
		if uint32(r.ring.Occupied()) >= r.expectedLength {
			data := r.drain()[:r.expectedLength]
			r.Reset()
			return Outcome{Kind: OutcomeComplete, Data: data}
		}
		return Outcome{Kind: OutcomeFirstReceived}

	case KindConsecutive:
		if !r.active {
			return Outcome{Kind: OutcomeFail, Err: ErrMixFrames}
		}
		if f.Sequence != r.nextSeq {
			err := invalidSequence(r.nextSeq, f.Sequence)
			r.Reset()
			return Outcome{Kind: OutcomeFail, Err: err}
		}
		if n := r.ring.Write(f.Data); n < len(f.Data) {
			err := invalidDataLength(r.ring.Occupied()+len(f.Data), int(r.maxSize))
			r.Reset()
			return Outcome{Kind: OutcomeFail, Err: err}
		}
		r.nextSeq = nextSequence(r.nextSeq)

		if uint32(r.ring.Occupied()) >= r.expectedLength {
			data := r.drain()[:r.expectedLength]
			r.Reset()
			return Outcome{Kind: OutcomeComplete, Data: data}
		}
		return Outcome{Kind: OutcomeWait}

	default:
		return Outcome{Kind: OutcomeFail, Err: invalidParam("flow control frame fed to reassembler")}
	}
}
