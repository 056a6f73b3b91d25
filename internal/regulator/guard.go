package regulator

import (
	"errors"
	"fmt"
	"sync"
)

var ErrBusy = errors.New("actuator is busy")

// Guard не даёт запустить два цикла на один и тот же актуатор камеры.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{busy: map[string]struct{}{}}
}

// Acquire занимает (камера, актуатор) или сразу возвращает ErrBusy.
func (g *Guard) Acquire(cameraID string, act Actuator) (release func(), err error) {
	key := cameraID + "/" + act.Name

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	g.busy[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, key)
			g.mu.Unlock()
		})
	}, nil
}
