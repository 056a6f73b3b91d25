package pelco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u8(v uint8) *uint8 { return &v }

func TestBuildFrame(t *testing.T) {
	f := BuildFrame(0x01, 0x00, 0x08, 0x00, 0x20)
	assert.Equal(t, Frame{0xFF, 0x01, 0x00, 0x08, 0x00, 0x20, 0x29}, f)
	assert.Equal(t, "FF010008002029", f.String())

	// переполнение суммы по модулю 256
	f = BuildFrame(0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	assert.Equal(t, byte(0xFB), f[6])
}

func TestEncode(t *testing.T) {
	tests := []struct {
		cmd  Command
		want Frame
	}{
		{Command{Type: "up"}, BuildFrame(1, 0, 0x08, 0, 0x20)},
		{Command{Type: "down", Speed: u8(0x10)}, BuildFrame(1, 0, 0x10, 0, 0x10)},
		{Command{Type: "left"}, BuildFrame(1, 0, 0x04, 0x20, 0)},
		{Command{Type: "right", Speed: u8(0x3F)}, BuildFrame(1, 0, 0x02, 0x3F, 0)},
		{Command{Type: "upLeft"}, BuildFrame(1, 0, 0x0C, 0x20, 0x20)},
		{Command{Type: "upRight"}, BuildFrame(1, 0, 0x0A, 0x20, 0x20)},
		{Command{Type: "downLeft"}, BuildFrame(1, 0, 0x14, 0x20, 0x20)},
		{Command{Type: "downRight", Speed: u8(5)}, BuildFrame(1, 0, 0x12, 5, 5)},
		{Command{Type: "stop", Speed: u8(9)}, Frame{0xFF, 1, 0, 0, 0, 0, 1}},
		{Command{Type: "zoomIn"}, BuildFrame(1, 0, 0x20, 0, 0x20)},
		{Command{Type: "zoomOut"}, BuildFrame(1, 0, 0x40, 0, 0x20)},
		{Command{Type: "focusNear"}, BuildFrame(1, 0x01, 0, 0, 0)},
		{Command{Type: "focusFar"}, BuildFrame(1, 0, 0x80, 0, 0)},
		{Command{Type: "irisOpen"}, BuildFrame(1, 0x02, 0, 0, 0)},
		{Command{Type: "irisClose"}, BuildFrame(1, 0x04, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Type, func(t *testing.T) {
			got, err := Encode(1, tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Encode(1, Command{Type: "spin"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "zoomIn")
	assert.Contains(t, err.Error(), TypeRaw)
	assert.Len(t, Types(), 15)
}

func TestParseRawHex(t *testing.T) {
	f, err := ParseRawHex("FF 01 00 08 00 20")
	require.NoError(t, err)
	assert.Equal(t, BuildFrame(1, 0, 0x08, 0, 0x20), f)

	// полный кадр передаётся как есть, checksum не проверяется
	f, err = ParseRawHex("ff:02:00:04:20:00:00")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xFF, 2, 0, 4, 0x20, 0, 0}, f)

	f, err = ParseRawHex("0xFF 0x01 0x00 0x00 0x00 0x00")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xFF, 1, 0, 0, 0, 0, 1}, f)

	_, err = ParseRawHex("FF0100")
	assert.ErrorIs(t, err, ErrRawLength)
	_, err = ParseRawHex("FF01000800200000")
	assert.ErrorIs(t, err, ErrRawLength)
	_, err = ParseRawHex("AA0100080020")
	assert.ErrorIs(t, err, ErrRawSync)

	f, err = Encode(7, Command{Type: TypeRaw, Hex: "FF0500000000"})
	require.NoError(t, err)
	assert.Equal(t, byte(5), f[1])
}
