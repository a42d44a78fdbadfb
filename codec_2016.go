package isotp

import "encoding/binary"

// 2016-edition Single and First frame encoding/decoding (§4.A). Adds an
// escape form for payloads that do not fit the 2004 edition's fields: a
// Single frame whose length needs more than 4 bits, or a First frame whose
// total length exceeds the 12-bit field (0xFFF).

func encodeSingle2016(f Frame, cfg *Config) ([]byte, error) {
	length := len(f.Data)
	if length > 0 && length <= 15 {
		return encodeSingle2004(f, cfg)
	}
	// Escape form header is 2 bytes (byte0 = 0x00, byte1 = length); a
	// length that would push the frame past the MTU can't be padded away
	// and must be rejected here rather than handed to padTo.
	if 2+length > int(cfg.MTU) {
		return nil, lengthOutOfRange(length)
	}
	buf := make([]byte, 0, 2+length)
	buf = append(buf, 0x00, byte(length))
	buf = append(buf, f.Data...)
	return padTo(buf, cfg), nil
}

func decodeSingle2016(buf []byte) (Frame, error) {
	nibble := buf[0] & 0x0F
	if nibble != 0 {
		return decodeSingle2004(buf)
	}
	if len(buf) < 2 {
		return Frame{}, invalidPdu(buf)
	}
	length := int(buf[1])
	if length > len(buf)-2 {
		return Frame{}, invalidPdu(buf)
	}
	return Frame{Kind: KindSingle, Data: buf[2 : 2+length]}, nil
}

// encodeFirst2016 uses the 32-bit escape form when the total length does
// not fit the 12-bit field: byte0 = 0x10, byte1 = 0x00 (reserved), bytes
// 2..5 = 32-bit length (big-endian), data from byte6 — a 6-byte header,
// matching FF_CAPACITY_2016 = M-6.
func encodeFirst2016(f Frame, cfg *Config) ([]byte, error) {
	if f.TotalLength <= 0xFFF {
		return encodeFirst2004(f, cfg)
	}
	buf := make([]byte, 0, 6+len(f.Data))
	buf = append(buf, 0x10, 0x00)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, f.TotalLength)
	buf = append(buf, lenBytes...)
	buf = append(buf, f.Data...)
	return buf, nil
}

func decodeFirst2016(buf []byte, cfg *Config) (Frame, error) {
	if len(buf) != int(cfg.MTU) {
		return Frame{}, invalidDataLength(len(buf), int(cfg.MTU))
	}
	short := uint32(buf[0]&0x0F)<<8 | uint32(buf[1])
	if short != 0 {
		return Frame{Kind: KindFirst, TotalLength: short, Data: buf[2:]}, nil
	}
	if len(buf) < 6 {
		return Frame{}, invalidPdu(buf)
	}
	length := binary.BigEndian.Uint32(buf[2:6])
	return Frame{Kind: KindFirst, TotalLength: length, Data: buf[6:]}, nil
}
