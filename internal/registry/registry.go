package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ptzgate/internal/camera"
)

var ErrUnknownCamera = errors.New("camera not found")

type Camera struct {
	ID       string `yaml:"id"       json:"id"`
	Name     string `yaml:"name"     json:"name"`
	Host     string `yaml:"host"     json:"host"`
	Username string `yaml:"username" json:"-"`
	Password string `yaml:"password" json:"-"`
	Channel  int    `yaml:"channel"  json:"channel"`
	// камера, на которой детектор смотрит зоны во время обхода этой
	Partner string `yaml:"partner"  json:"partner,omitempty"`

	Online bool `yaml:"-" json:"online"`
}

// Store: реестр камер. Клиенты создаются один раз при Add и дальше
// только читаются.
type Store struct {
	mu      sync.RWMutex
	data    map[string]Camera
	clients map[string]*camera.Client
	timeout time.Duration
}

func NewStore(timeout time.Duration) *Store {
	return &Store{
		data:    map[string]Camera{},
		clients: map[string]*camera.Client{},
		timeout: timeout,
	}
}

func (s *Store) Add(c Camera) {
	cl := camera.NewClient(camera.Config{
		ID:       c.ID,
		Host:     c.Host,
		Username: c.Username,
		Password: c.Password,
		Channel:  c.Channel,
		Timeout:  s.timeout,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[c.ID] = c
	s.clients[c.ID] = cl
}

func (s *Store) Get(id string) (Camera, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

func (s *Store) Client(id string) (*camera.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	return cl, nil
}

// Partner возвращает камеру-напарника: явно заданную в конфиге,
// иначе первую другую камеру по id.
func (s *Store) Partner(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	if c.Partner != "" {
		return c.Partner, nil
	}
	ids := make([]string, 0, len(s.data))
	for other := range s.data {
		if other != id {
			ids = append(ids, other)
		}
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no partner camera for %s", id)
	}
	sort.Strings(ids)
	return ids[0], nil
}

func (s *Store) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[id]
	if !ok {
		return
	}
	v.Online = online
	s.data[id] = v
}

func (s *Store) List() []Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Camera, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
