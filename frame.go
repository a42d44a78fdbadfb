package isotp

import "fmt"

// Kind tags the four ISO-TP frame variants (§3 Frame). Dispatch on Kind is
// by tag, never subtype inheritance, per §9 "Tagged variants".
type Kind uint8

const (
	KindSingle Kind = iota
	KindFirst
	KindConsecutive
	KindFlowControl
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "Single"
	case KindFirst:
		return "First"
	case KindConsecutive:
		return "Consecutive"
	case KindFlowControl:
		return "FlowControl"
	default:
		return "Unknown"
	}
}

// FCState is the receiver-to-sender pacing primitive's status (§3).
type FCState uint8

const (
	FCContinues FCState = 0
	FCWait      FCState = 1
	FCOverload  FCState = 2
)

func (s FCState) String() string {
	switch s {
	case FCContinues:
		return "Continues"
	case FCWait:
		return "Wait"
	case FCOverload:
		return "Overload"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(s))
	}
}

// Frame is the closed sum type for one CAN-payload-sized ISO-TP PDU unit
// (§3). Only the fields relevant to Kind are meaningful; callers must
// switch on Kind before reading them, exactly as the session engine does.
type Frame struct {
	Kind Kind

	// Single
	Data []byte

	// First
	TotalLength uint32

	// Consecutive
	Sequence uint8

	// FlowControl
	FCState   FCState
	BlockSize uint8
	STmin     uint8
}

func NewSingle(data []byte) Frame {
	return Frame{Kind: KindSingle, Data: data}
}

func NewFirst(totalLength uint32, data []byte) Frame {
	return Frame{Kind: KindFirst, TotalLength: totalLength, Data: data}
}

func NewConsecutive(sequence uint8, data []byte) Frame {
	return Frame{Kind: KindConsecutive, Sequence: sequence & 0x0F, Data: data}
}

func NewFlowControl(state FCState, blockSize, stMin uint8) Frame {
	return Frame{Kind: KindFlowControl, FCState: state, BlockSize: blockSize, STmin: stMin}
}

// Encode renders f into one CAN-payload-sized buffer for cfg's dialect and
// MTU, padding with cfg.PaddingByte (§4.A). Single, Consecutive and
// FlowControl buffers are padded to exactly cfg.MTU bytes on classical
// CAN and up-sized to the next legal DLC in {8,12,16,20,24,32,48,64} on
// CAN-FD. First frames are never padded: they are cfg.MTU bytes long when
// they carry a full First-frame capacity of data, as Segment produces.
func (f Frame) Encode(cfg *Config) ([]byte, error) {
	switch f.Kind {
	case KindSingle:
		return encodeSingle(f, cfg)
	case KindFirst:
		return encodeFirst(f, cfg)
	case KindConsecutive:
		return encodeConsecutive(f, cfg)
	case KindFlowControl:
		return encodeFlowControl(f, cfg)
	default:
		return nil, invalidParam(fmt.Sprintf("unknown frame kind %d", f.Kind))
	}
}

// Decode parses buf as one CAN-payload-sized ISO-TP frame for cfg's
// dialect and MTU (§4.A). Padding bytes trailing real data are ignored by
// Single/First/FlowControl (their length is self-describing); Consecutive
// frames return all bytes after the PCI byte verbatim, since ISO-TP gives
// the reassembler — not the codec — the job of deciding how many of them
// are real payload versus padding.
func Decode(buf []byte, cfg *Config) (Frame, error) {
	if len(buf) == 0 {
		return Frame{}, ErrEmptyPdu
	}
	if len(buf) < 3 {
		return Frame{}, invalidPdu(buf)
	}

	switch buf[0] >> 4 {
	case 0x0:
		return decodeSingle(buf, cfg)
	case 0x1:
		return decodeFirst(buf, cfg)
	case 0x2:
		return decodeConsecutive(buf, cfg)
	case 0x3:
		return decodeFlowControl(buf, cfg)
	default:
		return Frame{}, invalidParam(fmt.Sprintf("unknown PCI type nibble 0x%x", buf[0]>>4))
	}
}

// encodeSingle, decodeSingle, encodeFirst and decodeFirst route to the
// dialect-specific codec (codec_2004.go, codec_2016.go) based on
// cfg.Dialect (§4.A).
func encodeSingle(f Frame, cfg *Config) ([]byte, error) {
	if len(f.Data) > cfg.capacities().sfCapacity {
		return nil, lengthOutOfRange(len(f.Data))
	}
	if cfg.Dialect == Dialect2016 {
		return encodeSingle2016(f, cfg)
	}
	return encodeSingle2004(f, cfg)
}

func decodeSingle(buf []byte, cfg *Config) (Frame, error) {
	if cfg.Dialect == Dialect2016 {
		return decodeSingle2016(buf)
	}
	return decodeSingle2004(buf)
}

func encodeFirst(f Frame, cfg *Config) ([]byte, error) {
	if cfg.Dialect == Dialect2016 {
		return encodeFirst2016(f, cfg)
	}
	if f.TotalLength > 0xFFF {
		return nil, lengthOutOfRange(int(f.TotalLength))
	}
	return encodeFirst2004(f, cfg)
}

func decodeFirst(buf []byte, cfg *Config) (Frame, error) {
	if cfg.Dialect == Dialect2016 {
		return decodeFirst2016(buf, cfg)
	}
	return decodeFirst2004(buf, cfg)
}

// padTo pads data with cfg.PaddingByte to the smallest legal frame size
// (quantizing to a CAN-FD DLC when cfg.MTU is MTUCanFD), matching the
// teacher's "pad remainder to MTU" phrasing used throughout §4.A.
func padTo(data []byte, cfg *Config) []byte {
	size := int(cfg.MTU)
	if cfg.MTU == MTUCanFD {
		size = quantizeCanFD(len(data))
	}
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	for i := len(data); i < size; i++ {
		out[i] = cfg.PaddingByte
	}
	return out
}

func encodeConsecutive(f Frame, cfg *Config) ([]byte, error) {
	buf := make([]byte, 0, 1+len(f.Data))
	buf = append(buf, 0x20|(f.Sequence&0x0F))
	buf = append(buf, f.Data...)
	return padTo(buf, cfg), nil
}

func decodeConsecutive(buf []byte, cfg *Config) (Frame, error) {
	return Frame{
		Kind:     KindConsecutive,
		Sequence: buf[0] & 0x0F,
		Data:     buf[1:],
	}, nil
}

func encodeFlowControl(f Frame, cfg *Config) ([]byte, error) {
	buf := []byte{0x30 | (uint8(f.FCState) & 0x0F), f.BlockSize, f.STmin}
	return padTo(buf, cfg), nil
}

func decodeFlowControl(buf []byte, cfg *Config) (Frame, error) {
	state := FCState(buf[0] & 0x0F)
	if state > FCOverload {
		return Frame{}, invalidParam(fmt.Sprintf("unknown flow control state 0x%x", buf[0]&0x0F))
	}
	return Frame{
		Kind:      KindFlowControl,
		FCState:   state,
		BlockSize: buf[1],
		STmin:     buf[2],
	}, nil
}
