package room

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrRoomExists is returned when creating a room whose name is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomNotFound is returned when looking up an unknown room.
	ErrRoomNotFound = errors.New("room not found")
)

// Registry is the name to room directory.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// CreateRoom creates a plain chat room.
func (reg *Registry) CreateRoom(name string) (*Room, error) {
	return reg.create(name, false, "")
}

// CreateAIRoom creates a room with a bot participant driven by systemPrompt.
func (reg *Registry) CreateAIRoom(name, systemPrompt string) (*Room, error) {
	return reg.create(name, true, systemPrompt)
}

func (reg *Registry) create(name string, isAI bool, systemPrompt string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[name]; ok {
		return nil, ErrRoomExists
	}
	r := newRoom(name, isAI, systemPrompt)
	reg.rooms[name] = r
	return r, nil
}

// Get returns the room with the given name.
func (reg *Registry) Get(name string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Exists reports whether a room with the given name is registered.
func (reg *Registry) Exists(name string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[name]
	return ok
}

// Names returns all room names, sorted.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	names := make([]string, 0, len(reg.rooms))
	for name := range reg.rooms {
		names = append(names, name)
	}
	reg.mu.RUnlock()

	sort.Strings(names)
	return names
}
