package isotp

import (
	"fmt"
	"io"

	"gopkg.in/ini.v1"
)

// Dialect selects the ISO 15765-2 edition used to encode/decode length
// fields in the single- and first-frame PCI (§4.A).
type Dialect uint8

const (
	Dialect2004 Dialect = iota
	Dialect2016
)

func (d Dialect) String() string {
	if d == Dialect2016 {
		return "ISO15765-2:2016"
	}
	return "ISO15765-2:2004"
}

// MTU is the link's maximum payload size: classical CAN or CAN-FD (§4.A).
type MTU int

const (
	MTUClassical MTU = 8
	MTUCanFD     MTU = 64
)

// canFdDLC holds the legal CAN-FD payload sizes a short PDU is up-sized to
// when padding a Single or Consecutive frame (§4.A, §6).
var canFdDLC = [...]int{8, 12, 16, 20, 24, 32, 48, 64}

// quantizeCanFD returns the smallest legal CAN-FD DLC that can hold n
// bytes. n must already be <= 64.
func quantizeCanFD(n int) int {
	for _, dlc := range canFdDLC {
		if n <= dlc {
			return dlc
		}
	}
	return canFdDLC[len(canFdDLC)-1]
}

// Timeouts holds the four protocol timers in milliseconds (§6, §8).
type Timeouts struct {
	AS     uint32 // A_s — sender awaiting link transmit-ack
	BS     uint32 // B_s — receiver awaiting next consecutive frame (not directly timed here; kept for completeness/config parity)
	CR     uint32 // C_r — sender awaiting flow control after a window
	P2Star uint32 // P2* — sender awaiting a transition out of FC.Wait
}

// DefaultTimeouts matches §6's recognized defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{AS: 1000, BS: 1000, CR: 1000, P2Star: 5000}
}

// OBDIITimeouts matches §6's OBD-II profile.
func OBDIITimeouts() Timeouts {
	return Timeouts{AS: 33, BS: 75, CR: 150, P2Star: 5000}
}

// Config is the recognized configuration surface from §6. It is plain data;
// a Session is constructed from one via NewSession and never mutates it.
type Config struct {
	Dialect              Dialect
	MTU                  MTU
	PaddingByte          byte
	DefaultFCBlockSize   uint8
	DefaultFCSTmin       uint8 // ms, per §4.D default (10)
	Timeouts             Timeouts

	// MaxReassemblySize bounds how many bytes a single inbound transfer
	// may accumulate, independent of the dialect's legal maximum length
	// (0xFFF or 0xFFFFFFFF): it guards the reassembler's ring buffer
	// against a corrupt or hostile First-frame total_length forcing a
	// multi-gigabyte allocation. Not part of spec.md's recognized
	// options; an implementation-level safety bound.
	MaxReassemblySize uint32
}

// DefaultConfig returns the §6 recognized defaults for classical CAN under
// the 2016 dialect.
func DefaultConfig() Config {
	return Config{
		Dialect:            Dialect2016,
		MTU:                MTUClassical,
		PaddingByte:         0xAA,
		DefaultFCBlockSize:  0,
		DefaultFCSTmin:      10,
		Timeouts:            DefaultTimeouts(),
		MaxReassemblySize:   1 << 20,
	}
}

// LoadConfigINI reads a Config from an INI document shaped like the
// teacher's EDS loader (od_parser.go: ini.Load + Section/Key lookups), with
// a single [isotp] section. Unset keys keep DefaultConfig's values.
//
//	[isotp]
//	dialect = 2016
//	mtu = 8
//	padding_byte = 0xAA
//	default_fc_block_size = 0
//	default_fc_st_min = 10
//	a_s = 1000
//	b_s = 1000
//	c_r = 1000
//	p2_star = 5000
func LoadConfigINI(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	file, err := ini.Load(raw)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if !file.HasSection("isotp") {
		return &cfg, nil
	}
	section := file.Section("isotp")

	if key := section.Key("dialect"); key.String() != "" {
		switch key.MustInt(2016) {
		case 2004:
			cfg.Dialect = Dialect2004
		case 2016:
			cfg.Dialect = Dialect2016
		default:
			return nil, fmt.Errorf("isotp: unknown dialect %q", key.String())
		}
	}
	if key := section.Key("mtu"); key.String() != "" {
		switch key.MustInt(int(MTUClassical)) {
		case int(MTUClassical):
			cfg.MTU = MTUClassical
		case int(MTUCanFD):
			cfg.MTU = MTUCanFD
		default:
			return nil, fmt.Errorf("isotp: unsupported mtu %q", key.String())
		}
	}
	cfg.PaddingByte = byte(section.Key("padding_byte").MustUint(uint(cfg.PaddingByte)))
	cfg.DefaultFCBlockSize = uint8(section.Key("default_fc_block_size").MustUint(uint(cfg.DefaultFCBlockSize)))
	cfg.DefaultFCSTmin = uint8(section.Key("default_fc_st_min").MustUint(uint(cfg.DefaultFCSTmin)))
	cfg.Timeouts.AS = uint32(section.Key("a_s").MustUint(uint(cfg.Timeouts.AS)))
	cfg.Timeouts.BS = uint32(section.Key("b_s").MustUint(uint(cfg.Timeouts.BS)))
	cfg.Timeouts.CR = uint32(section.Key("c_r").MustUint(uint(cfg.Timeouts.CR)))
	cfg.Timeouts.P2Star = uint32(section.Key("p2_star").MustUint(uint(cfg.Timeouts.P2Star)))
	cfg.MaxReassemblySize = uint32(section.Key("max_reassembly_size").MustUint(uint(cfg.MaxReassemblySize)))
	return &cfg, nil
}

// capacities derived from MTU and dialect (§4.A).
type capacities struct {
	sfCapacity int
	ffCapacity int
	cfCapacity int
	maxLength  uint32
}

func (c *Config) capacities() capacities {
	m := int(c.MTU)

	// The short form's length lives in a 4-bit PCI nibble, so it can
	// never carry more than 15 bytes regardless of MTU (SF_CAPACITY_*
	// = M-1 only holds where M-1 <= 15, i.e. classical CAN).
	shortCap := m - 1
	if shortCap > 15 {
		shortCap = 15
	}

	switch c.Dialect {
	case Dialect2004:
		return capacities{
			sfCapacity: shortCap,
			ffCapacity: m - 2,
			cfCapacity: m - 1,
			maxLength:  0xFFF,
		}
	default: // Dialect2016
		// The escape (long) form's capacity is M-2; on CAN-FD that
		// exceeds the nibble-bound short form's 15 bytes, so it, not
		// the short form, sets the real single-frame ceiling.
		longCap := m - 2
		sfCap := shortCap
		if longCap > sfCap {
			sfCap = longCap
		}
		return capacities{
			sfCapacity: sfCap,
			ffCapacity: m - 6,
			cfCapacity: m - 1,
			maxLength:  0xFFFFFFFF,
		}
	}
}
