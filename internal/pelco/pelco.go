// Package pelco кодирует команды PTZ в кадры Pelco-D.
package pelco

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	Sync         = 0xFF
	FrameSize    = 7
	DefaultSpeed = 0x20
	MaxSpeed     = 0x3F
)

const (
	TypeRaw  = "raw"
	TypeStop = "stop"
)

var (
	ErrRawLength      = errors.New("hex must be 12 (no checksum) or 14 (with checksum) hex characters")
	ErrRawSync        = errors.New("first byte must be FF")
	ErrUnknownCommand = errors.New("unknown pelco command")
)

// Frame: [FF, addr, cmd1, cmd2, data1, data2, checksum].
type Frame [FrameSize]byte

func (f Frame) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// BuildFrame собирает кадр; checksum = (addr+cmd1+cmd2+data1+data2) mod 256.
func BuildFrame(addr, cmd1, cmd2, data1, data2 byte) Frame {
	return Frame{Sync, addr, cmd1, cmd2, data1, data2, addr + cmd1 + cmd2 + data1 + data2}
}

// Command: команда в том виде, как она приходит по API.
type Command struct {
	Type  string `json:"type"`
	Speed *uint8 `json:"speed,omitempty"`
	Hex   string `json:"hex,omitempty"`
}

type pattern struct {
	cmd1, cmd2 byte
	pan, tilt  bool // скорость в data1 / data2
}

const (
	bitRight = 0x02
	bitLeft  = 0x04
	bitUp    = 0x08
	bitDown  = 0x10
)

var patterns = map[string]pattern{
	"up":        {cmd2: bitUp, tilt: true},
	"down":      {cmd2: bitDown, tilt: true},
	"left":      {cmd2: bitLeft, pan: true},
	"right":     {cmd2: bitRight, pan: true},
	"upLeft":    {cmd2: bitUp | bitLeft, pan: true, tilt: true},
	"upRight":   {cmd2: bitUp | bitRight, pan: true, tilt: true},
	"downLeft":  {cmd2: bitDown | bitLeft, pan: true, tilt: true},
	"downRight": {cmd2: bitDown | bitRight, pan: true, tilt: true},
	TypeStop:    {},
	// zoom передаёт скорость в data2, многие камеры её игнорируют
	"zoomIn":    {cmd2: 0x20, tilt: true},
	"zoomOut":   {cmd2: 0x40, tilt: true},
	"focusNear": {cmd1: 0x01},
	"focusFar":  {cmd2: 0x80},
	"irisOpen":  {cmd1: 0x02},
	"irisClose": {cmd1: 0x04},
}

// Encode переводит команду в кадр для камеры с адресом addr.
// Для type=raw адрес берётся из самого hex.
func Encode(addr byte, cmd Command) (Frame, error) {
	if cmd.Type == TypeRaw {
		return ParseRawHex(cmd.Hex)
	}
	p, ok := patterns[cmd.Type]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnknownCommand, cmd.Type, strings.Join(Types(), ", "), TypeRaw)
	}
	speed := byte(DefaultSpeed)
	if cmd.Speed != nil {
		speed = *cmd.Speed
	}
	var d1, d2 byte
	if p.pan {
		d1 = speed
	}
	if p.tilt {
		d2 = speed
	}
	return BuildFrame(addr, p.cmd1, p.cmd2, d1, d2), nil
}

var hexPrefix = strings.NewReplacer("0x", "", "0X", "")

// ParseRawHex принимает 7-байтный кадр или 6 байт без checksum.
// Всё, кроме hex-цифр ("0x", пробелы, двоеточия), отбрасывается.
func ParseRawHex(s string) (Frame, error) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		}
		return -1
	}, hexPrefix.Replace(s))
	if len(clean) != 2*FrameSize && len(clean) != 2*(FrameSize-1) {
		return Frame{}, fmt.Errorf("%w: got %d", ErrRawLength, len(clean))
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return Frame{}, err
	}

	var f Frame
	if len(b) == FrameSize {
		copy(f[:], b)
		return f, nil
	}
	if b[0] != Sync {
		return Frame{}, ErrRawSync
	}
	return BuildFrame(b[1], b[2], b[3], b[4], b[5]), nil
}

// Types возвращает список поддерживаемых команд (без raw).
func Types() []string {
	return slices.Sorted(maps.Keys(patterns))
}
