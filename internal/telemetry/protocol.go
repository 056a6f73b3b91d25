package telemetry

// Формат кадра трекинга (UDP от процесса распознавания):
//
//	0xFB | count | count × 14 байт записей | checksum
//
// checksum: младший байт суммы всех байт, кроме заголовка и самого checksum.
const (
	FrameHeader uint8 = 0xFB
	RecordSize        = 14
	// заголовок + count + checksum
	frameOverhead = 3
)

// Layout: раскладка 14-байтовой записи. Определяется конфигурацией, не данными.
type Layout int

const (
	// LayoutXYZ: cls(1) trackId(1) x(int32) y(int32) z(int32)
	LayoutXYZ Layout = iota
	// LayoutBBox: cls(1) trackId(1) x(int16) x1(int16) y(int16) y1(int16) z(int32)
	LayoutBBox
)

func (l Layout) String() string {
	switch l {
	case LayoutXYZ:
		return "xyz"
	case LayoutBBox:
		return "bbox"
	default:
		return "unknown"
	}
}

// ParseLayout понимает значения из конфига: "xyz"/"a" и "bbox"/"b".
func ParseLayout(s string) (Layout, bool) {
	switch s {
	case "", "xyz", "a", "A":
		return LayoutXYZ, true
	case "bbox", "b", "B":
		return LayoutBBox, true
	default:
		return LayoutXYZ, false
	}
}

// FrameLen возвращает ожидаемую длину кадра для count объектов.
func FrameLen(count int) int {
	return frameOverhead + RecordSize*count
}
