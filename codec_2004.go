package isotp

// 2004-edition Single and First frame encoding/decoding (§4.A). The 2004
// edition has no escape form: Single length lives entirely in the PCI low
// nibble (0..15) and First length in a 12-bit field split across the PCI
// nibble and the second byte.

func encodeSingle2004(f Frame, cfg *Config) ([]byte, error) {
	buf := make([]byte, 0, 1+len(f.Data))
	buf = append(buf, byte(len(f.Data))&0x0F)
	buf = append(buf, f.Data...)
	return padTo(buf, cfg), nil
}

func decodeSingle2004(buf []byte) (Frame, error) {
	length := int(buf[0] & 0x0F)
	if length > len(buf)-1 {
		return Frame{}, invalidPdu(buf)
	}
	return Frame{Kind: KindSingle, Data: buf[1 : 1+length]}, nil
}

func encodeFirst2004(f Frame, cfg *Config) ([]byte, error) {
	length := f.TotalLength
	buf := make([]byte, 0, 2+len(f.Data))
	buf = append(buf, 0x10|byte((length>>8)&0x0F))
	buf = append(buf, byte(length&0xFF))
	buf = append(buf, f.Data...)
	// First frames are never padded: they are always exactly MTU bytes
	// because the segmenter always fills FF_CAPACITY bytes of data.
	return buf, nil
}

func decodeFirst2004(buf []byte, cfg *Config) (Frame, error) {
	if len(buf) != int(cfg.MTU) {
		return Frame{}, invalidDataLength(len(buf), int(cfg.MTU))
	}
	length := uint32(buf[0]&0x0F)<<8 | uint32(buf[1])
	return Frame{Kind: KindFirst, TotalLength: length, Data: buf[2:]}, nil
}
