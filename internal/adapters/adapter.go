package adapters

import "context"

// Adapter: долгоживущий источник или приёмник данных (UDP телеметрия,
// последовательный порт, синтетический поток). Start блокирует до отмены ctx.
type Adapter interface {
	Start(ctx context.Context) error
}

// Func позволяет использовать обычную функцию как Adapter.
type Func func(ctx context.Context) error

func (f Func) Start(ctx context.Context) error { return f(ctx) }
