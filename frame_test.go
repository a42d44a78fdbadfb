package isotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classicalConfig() *Config {
	cfg := DefaultConfig()
	cfg.Dialect = Dialect2004
	cfg.MTU = MTUClassical
	return &cfg
}

func canFD2016Config() *Config {
	cfg := DefaultConfig()
	cfg.Dialect = Dialect2016
	cfg.MTU = MTUCanFD
	return &cfg
}

// Concrete scenarios S1-S4.
func TestDecodeScenarios(t *testing.T) {
	cfg := classicalConfig()

	t.Run("S1 single frame", func(t *testing.T) {
		f, err := Decode([]byte{0x02, 0x10, 0x01, 0, 0, 0, 0, 0}, cfg)
		require.NoError(t, err)
		assert.Equal(t, KindSingle, f.Kind)
		assert.Equal(t, []byte{0x10, 0x01}, f.Data)
	})

	t.Run("S2 first frame", func(t *testing.T) {
		f, err := Decode([]byte{0x10, 0x0F, 0x62, 0xF1, 0x87, 0x44, 0x56, 0x43}, cfg)
		require.NoError(t, err)
		assert.Equal(t, KindFirst, f.Kind)
		assert.EqualValues(t, 0x0F, f.TotalLength)
		assert.Equal(t, []byte{0x62, 0xF1, 0x87, 0x44, 0x56, 0x43}, f.Data)
	})

	t.Run("S3 consecutive frame", func(t *testing.T) {
		f, err := Decode([]byte{0x21, 0x37, 0x45, 0x32, 0x30, 0x30, 0x30, 0x30}, cfg)
		require.NoError(t, err)
		assert.Equal(t, KindConsecutive, f.Kind)
		assert.EqualValues(t, 1, f.Sequence)
		assert.Equal(t, []byte{0x37, 0x45, 0x32, 0x30, 0x30, 0x30, 0x30}, f.Data)
	})

	t.Run("S4 flow control frame", func(t *testing.T) {
		f, err := Decode([]byte{0x30, 0x80, 0x01, 0x55, 0x55, 0x55, 0x55, 0x55}, cfg)
		require.NoError(t, err)
		assert.Equal(t, KindFlowControl, f.Kind)
		assert.Equal(t, FCContinues, f.FCState)
		assert.EqualValues(t, 0x80, f.BlockSize)
		assert.EqualValues(t, 0x01, f.STmin)
	})
}

// S6: default FC frame encoded with a non-default pad byte.
func TestEncodeDefaultFlowControl(t *testing.T) {
	cfg := classicalConfig()
	cfg.PaddingByte = 0x55

	fc := DefaultFlowControl(cfg)
	encoded, err := fc.Encode(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x00, 0x0A, 0x55, 0x55, 0x55, 0x55, 0x55}, encoded)
}

// Property 5: any buffer shorter than 3 bytes fails to decode.
func TestDecodeRejectsShortBuffers(t *testing.T) {
	cfg := classicalConfig()

	_, err := Decode(nil, cfg)
	assert.ErrorIs(t, err, ErrEmptyPdu)

	for n := 1; n < 3; n++ {
		_, err := Decode(make([]byte, n), cfg)
		assert.Error(t, err)
	}
}

func TestDecodeSingleRejectsOverlongLength(t *testing.T) {
	cfg := classicalConfig()
	_, err := Decode([]byte{0x07, 0x01, 0x02}, cfg)
	assert.Error(t, err)
}

func TestDecodeFirstRequiresExactMTU(t *testing.T) {
	cfg := classicalConfig()
	_, err := Decode([]byte{0x10, 0x20, 1, 2, 3}, cfg)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeInvalidDataLength, te.Code)
}

// Property 2: decode(encode(F)) == F, for each frame kind, under both
// dialects.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, dialect := range []Dialect{Dialect2004, Dialect2016} {
		cfg := classicalConfig()
		cfg.Dialect = dialect

		frames := []Frame{
			NewSingle([]byte{0xAB, 0xCD}),
			NewFirst(20, []byte{1, 2, 3, 4, 5, 6}),
			NewConsecutive(3, []byte{7, 8, 9, 10, 11, 12, 13}),
			NewFlowControl(FCWait, 8, 0x0A),
		}
		for _, f := range frames {
			encoded, err := f.Encode(cfg)
			require.NoError(t, err)
			decoded, err := Decode(encoded, cfg)
			require.NoError(t, err)
			assert.Equal(t, f.Kind, decoded.Kind)
			switch f.Kind {
			case KindSingle:
				assert.Equal(t, f.Data, decoded.Data)
			case KindFirst:
				assert.Equal(t, f.TotalLength, decoded.TotalLength)
			case KindConsecutive:
				assert.Equal(t, f.Sequence, decoded.Sequence)
			case KindFlowControl:
				assert.Equal(t, f.FCState, decoded.FCState)
				assert.Equal(t, f.BlockSize, decoded.BlockSize)
				assert.Equal(t, f.STmin, decoded.STmin)
			}
		}
	}
}

func TestEncodeSingle2016Escape(t *testing.T) {
	cfg := classicalConfig()
	cfg.Dialect = Dialect2016
	cfg.MTU = MTUCanFD

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	f := NewSingle(data)
	encoded, err := f.Encode(cfg)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), encoded[0])
	assert.Equal(t, byte(20), encoded[1])

	decoded, err := Decode(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, data, decoded.Data)
}

// Under CAN-FD + the 2016 dialect, the escape form's 2-byte header caps a
// Single frame's real capacity at M-2 (62), one below the naive M-1 (63)
// that the short form's 4-bit nibble could never reach anyway: 63 bytes
// has nowhere legal to go and must be rejected, not silently padded past
// the 64-byte MTU.
func TestEncodeSingle2016EscapeBoundary(t *testing.T) {
	cfg := canFD2016Config()
	assert.Equal(t, 62, cfg.capacities().sfCapacity)

	f := NewSingle(make([]byte, 62))
	encoded, err := f.Encode(cfg)
	require.NoError(t, err)
	assert.Len(t, encoded, 64)
	assert.Equal(t, byte(0x00), encoded[0])
	assert.Equal(t, byte(62), encoded[1])

	decoded, err := Decode(encoded, cfg)
	require.NoError(t, err)
	assert.Len(t, decoded.Data, 62)

	_, err = NewSingle(make([]byte, 63)).Encode(cfg)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeLengthOutOfRange, te.Code)
}

func TestEncodeFirst2016LongEscape(t *testing.T) {
	cfg := classicalConfig()
	cfg.Dialect = Dialect2016
	cfg.MTU = MTUCanFD

	f := NewFirst(0x10000, make([]byte, cfg.capacities().ffCapacity))
	encoded, err := f.Encode(cfg)
	require.NoError(t, err)
	assert.Len(t, encoded, int(cfg.MTU))
	assert.Equal(t, byte(0x10), encoded[0])

	decoded, err := Decode(encoded, cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 0x10000, decoded.TotalLength)
}
