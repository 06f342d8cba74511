package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cospace/internal/metrics"
)

// Registry maps room ids to their live connection sets. Each room carries
// its own lock, so traffic in one room never contends with another; the
// registry lock only guards the map itself.
type Registry struct {
	log *zap.Logger

	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:   log,
		rooms: make(map[uuid.UUID]*Room),
	}
}

// GetOrCreate returns the room's connection slot, allocating one on first
// join. Empty slots are retained so reconnecting clients resume fast;
// whether a room exists at all is the store's call, made before this one.
func (reg *Registry) GetOrCreate(roomID uuid.UUID) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomID]; ok {
		return r
	}
	r := NewRoom(roomID, reg.log)
	reg.rooms[roomID] = r
	metrics.SetActiveRooms(len(reg.rooms))
	return r
}

func (reg *Registry) Get(roomID uuid.UUID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Delete removes a room slot entirely (administrative room deletion) and
// closes any connections still attached to it.
func (reg *Registry) Delete(roomID uuid.UUID) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	metrics.SetActiveRooms(len(reg.rooms))
	reg.mu.Unlock()

	if !ok {
		return
	}
	room.mu.Lock()
	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		clients = append(clients, c)
	}
	room.clients = make(map[uuid.UUID]*Client)
	room.mu.Unlock()

	for _, c := range clients {
		metrics.ConnectionClosed()
		c.Close()
	}
}
