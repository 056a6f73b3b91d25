package telemetry

import "math/rand"

// RandomObjects генерирует от 1 до max случайных объектов для эмулятора
// и тестового потока без реального источника.
func (c *Codec) RandomObjects(rng *rand.Rand, max int) []Object {
	if max < 1 {
		max = 1
	}
	n := rng.Intn(max) + 1
	out := make([]Object, 0, n)
	for i := 0; i < n; i++ {
		cls := uint8(rng.Intn(6) + 1)
		o := Object{
			Classification:     cls,
			ClassificationName: c.Classes.Name(cls),
			TrackID:            uint8(rng.Intn(100) + 1),
			Layout:             c.Layout,
		}
		if c.Layout == LayoutBBox {
			o.X = int32(rng.Intn(1920))
			o.Y = int32(rng.Intn(1080))
			o.X1 = o.X + int32(rng.Intn(200))
			o.Y1 = o.Y + int32(rng.Intn(200))
			o.Z = int32(rng.Intn(10000))
		} else {
			o.X = int32(rng.Intn(100000)) - 50000
			o.Y = int32(rng.Intn(100000)) - 50000
			o.Z = int32(rng.Intn(10000))
		}
		out = append(out, o)
	}
	return out
}
