package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrShortFrame = errors.New("telemetry: frame too short")
	ErrBadHeader  = errors.New("telemetry: bad frame header")
	ErrBadLength  = errors.New("telemetry: frame length does not match object count")
)

// Object: одна запись трекинга. Для LayoutXYZ заполнены X, Y, Z;
// для LayoutBBox, X, X1, Y, Y1 (int16 на проводе) и Z.
type Object struct {
	Classification     uint8
	ClassificationName string
	TrackID            uint8
	X, Y, Z            int32
	X1, Y1             int32
	Layout             Layout
}

func (o Object) MarshalJSON() ([]byte, error) {
	if o.Layout == LayoutBBox {
		return json.Marshal(struct {
			Classification     uint8  `json:"classification"`
			ClassificationName string `json:"classificationName"`
			TrackID            uint8  `json:"trackId"`
			X                  int32  `json:"x"`
			X1                 int32  `json:"x1"`
			Y                  int32  `json:"y"`
			Y1                 int32  `json:"y1"`
			Z                  int32  `json:"z"`
		}{o.Classification, o.ClassificationName, o.TrackID, o.X, o.X1, o.Y, o.Y1, o.Z})
	}
	return json.Marshal(struct {
		Classification     uint8  `json:"classification"`
		ClassificationName string `json:"classificationName"`
		TrackID            uint8  `json:"trackId"`
		X                  int32  `json:"x"`
		Y                  int32  `json:"y"`
		Z                  int32  `json:"z"`
	}{o.Classification, o.ClassificationName, o.TrackID, o.X, o.Y, o.Z})
}

type Frame struct {
	Header        uint8    `json:"header"`
	ObjectCount   int      `json:"objectCount"`
	Objects       []Object `json:"objects"`
	Checksum      uint8    `json:"crc"`
	ChecksumValid bool     `json:"crcValid"`
}

// Checksum считает контрольную сумму кадра: сумма байт [1, len-1) по модулю 256.
func Checksum(frame []byte) uint8 {
	var sum uint8
	for i := 1; i < len(frame)-1; i++ {
		sum += frame[i]
	}
	return sum
}

// Codec кодирует и декодирует кадры в заданной раскладке.
type Codec struct {
	Layout  Layout
	Classes ClassTable
}

func NewCodec(layout Layout, classes ClassTable) *Codec {
	if classes == nil {
		classes = NewClassTable(nil)
	}
	return &Codec{Layout: layout, Classes: classes}
}

// Decode разбирает кадр. Структурные ошибки возвращаются как ErrShortFrame,
// ErrBadHeader или ErrBadLength; несовпадение checksum ошибкой не считается,
// кадр возвращается с ChecksumValid=false.
func (c *Codec) Decode(buf []byte) (*Frame, error) {
	if len(buf) < frameOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}
	if buf[0] != FrameHeader {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadHeader, buf[0])
	}
	count := int(buf[1])
	if want := FrameLen(count); len(buf) != want {
		return nil, fmt.Errorf("%w: count=%d want=%d got=%d", ErrBadLength, count, want, len(buf))
	}

	f := &Frame{
		Header:      buf[0],
		ObjectCount: count,
		Objects:     make([]Object, 0, count),
		Checksum:    buf[len(buf)-1],
	}
	for i := 0; i < count; i++ {
		rec := buf[2+i*RecordSize : 2+(i+1)*RecordSize]
		f.Objects = append(f.Objects, c.decodeRecord(rec))
	}
	f.ChecksumValid = Checksum(buf) == f.Checksum
	return f, nil
}

func (c *Codec) decodeRecord(rec []byte) Object {
	o := Object{
		Classification: rec[0],
		TrackID:        rec[1],
		Layout:         c.Layout,
	}
	o.ClassificationName = c.Classes.Name(o.Classification)

	be := binary.BigEndian
	switch c.Layout {
	case LayoutBBox:
		o.X = int32(int16(be.Uint16(rec[2:4])))
		o.X1 = int32(int16(be.Uint16(rec[4:6])))
		o.Y = int32(int16(be.Uint16(rec[6:8])))
		o.Y1 = int32(int16(be.Uint16(rec[8:10])))
		o.Z = int32(be.Uint32(rec[10:14]))
	default:
		o.X = int32(be.Uint32(rec[2:6]))
		o.Y = int32(be.Uint32(rec[6:10]))
		o.Z = int32(be.Uint32(rec[10:14]))
	}
	return o
}

// Encode собирает кадр из объектов; обратная операция к Decode.
// Для LayoutBBox координаты X, X1, Y, Y1 усекаются до int16.
// Больше 255 объектов в кадр не помещается, лишние отбрасываются.
func (c *Codec) Encode(objects []Object) []byte {
	if len(objects) > 0xFF {
		objects = objects[:0xFF]
	}
	buf := make([]byte, FrameLen(len(objects)))
	buf[0] = FrameHeader
	buf[1] = uint8(len(objects))

	be := binary.BigEndian
	for i, o := range objects {
		rec := buf[2+i*RecordSize : 2+(i+1)*RecordSize]
		rec[0] = o.Classification
		rec[1] = o.TrackID
		switch c.Layout {
		case LayoutBBox:
			be.PutUint16(rec[2:4], uint16(int16(o.X)))
			be.PutUint16(rec[4:6], uint16(int16(o.X1)))
			be.PutUint16(rec[6:8], uint16(int16(o.Y)))
			be.PutUint16(rec[8:10], uint16(int16(o.Y1)))
			be.PutUint32(rec[10:14], uint32(o.Z))
		default:
			be.PutUint32(rec[2:6], uint32(o.X))
			be.PutUint32(rec[6:10], uint32(o.Y))
			be.PutUint32(rec[10:14], uint32(o.Z))
		}
	}
	buf[len(buf)-1] = Checksum(buf)
	return buf
}
