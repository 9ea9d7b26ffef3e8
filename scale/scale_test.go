package scale

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactEncoding(t *testing.T) {
	tests := []struct {
		name     string
		value    uint64
		expected []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"single byte max", 63, []byte{0xfc}},
		{"two byte min", 64, []byte{0x01, 0x01}},
		{"two byte max", 16383, []byte{0xfd, 0xff}},
		{"four byte min", 16384, []byte{0x02, 0x00, 0x01, 0x00}},
		{"four byte max", 1<<30 - 1, []byte{0xfe, 0xff, 0xff, 0xff}},
		{"big int min", 1 << 30, []byte{0x03, 0x00, 0x00, 0x00, 0x40}},
		{"u64 max", ^uint64(0), []byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder()
			enc.WriteCompact(tt.value)
			assert.Equal(t, tt.expected, enc.Bytes())

			dec := NewDecoder(tt.expected)
			got, err := dec.ReadCompact()
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
			assert.NoError(t, dec.Finish())
		})
	}
}

func TestCompactRejectsNonCanonical(t *testing.T) {
	// 1 encoded in two-byte mode
	_, err := NewDecoder([]byte{0x05, 0x00}).ReadCompact()
	assert.ErrorIs(t, err, ErrNonCanonical)

	// 9-byte big int does not fit u64
	_, err = NewDecoder([]byte{0x17, 1, 1, 1, 1, 1, 1, 1, 1, 1}).ReadCompact()
	assert.ErrorIs(t, err, ErrCompactTooWide)
}

func TestBytesAndString(t *testing.T) {
	enc := NewEncoder()
	enc.WriteBytes([]byte{1, 2, 3})
	enc.WriteString("wss://localhost:2000")
	enc.WriteBool(true)
	enc.WriteU8(7)
	enc.WriteU64(0x0102030405060708)

	dec := NewDecoder(enc.Bytes())
	b, err := dec.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	s, err := dec.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "wss://localhost:2000", s)

	v, err := dec.ReadBool()
	require.NoError(t, err)
	assert.True(t, v)

	u, err := dec.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u)

	n, err := dec.ReadU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), n)
	assert.NoError(t, dec.Finish())
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, enc.Bytes()[len(enc.Bytes())-8:])
}

func TestDecoderErrors(t *testing.T) {
	t.Run("length beyond input", func(t *testing.T) {
		_, err := NewDecoder([]byte{0x10, 0x01}).ReadBytes()
		assert.ErrorIs(t, err, ErrUnexpectedEOF)
	})

	t.Run("invalid bool", func(t *testing.T) {
		_, err := NewDecoder([]byte{0x02}).ReadBool()
		assert.ErrorIs(t, err, ErrInvalidBool)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := NewDecoder([]byte{0x04, 0xff}).ReadString()
		assert.ErrorIs(t, err, ErrInvalidUTF8)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		dec := NewDecoder([]byte{0x00, 0x00})
		_, err := dec.ReadU8()
		require.NoError(t, err)
		assert.ErrorIs(t, dec.Finish(), ErrTrailingBytes)
	})

	t.Run("long vector", func(t *testing.T) {
		payload := strings.Repeat("a", 70000)
		enc := NewEncoder()
		enc.WriteString(payload)
		got, err := NewDecoder(enc.Bytes()).ReadString()
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}
