package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cospace/internal/metrics"
	"cospace/internal/models"
)

// Room holds the active connections of one collaboration room. It only
// tracks connection lifetimes; durable room data lives in the store.
type Room struct {
	ID  uuid.UUID
	log *zap.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
}

func NewRoom(id uuid.UUID, log *zap.Logger) *Room {
	return &Room{
		ID:      id,
		log:     log,
		clients: make(map[uuid.UUID]*Client),
	}
}

// Join registers a connection. A second JOIN from the same connection is a
// no-op; it reports false so the caller can log it.
func (r *Room) Join(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; ok {
		r.log.Warn("duplicate join ignored",
			zap.String("roomId", r.ID.String()),
			zap.String("connectionId", c.ID.String()))
		return false
	}
	r.clients[c.ID] = c
	metrics.ConnectionOpened()
	return true
}

// Leave deregisters a connection and reports how many remain. The room slot
// itself is retained by the registry even when empty.
func (r *Room) Leave(connectionID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[connectionID]; ok {
		delete(r.clients, connectionID)
		metrics.ConnectionClosed()
	}
	return len(r.clients)
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Peers snapshots the connections currently in the room, excluding one.
func (r *Room) Peers(excluding uuid.UUID) []models.PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]models.PeerInfo, 0, len(r.clients))
	for id, c := range r.clients {
		if id == excluding {
			continue
		}
		peers = append(peers, c.Info())
	}
	return peers
}

// Broadcast delivers env to every connection except the sender. The peer
// set is snapshotted at call time; a connection joining mid-broadcast
// receives the current document state through its own join flow instead.
//
// A peer whose queue overflows is removed from the room and returned so the
// caller can announce the disconnect; one failing peer never aborts
// delivery to the rest.
func (r *Room) Broadcast(senderID uuid.UUID, env models.Envelope) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []*Client
	for id, c := range r.clients {
		if id == senderID {
			continue
		}
		if err := c.Send(env); err != nil {
			r.log.Warn("dropping unresponsive peer",
				zap.String("roomId", r.ID.String()),
				zap.String("connectionId", id.String()),
				zap.Error(err))
			delete(r.clients, id)
			metrics.ConnectionClosed()
			metrics.PeerDropped()
			dropped = append(dropped, c)
		}
	}
	metrics.BroadcastSent()
	return dropped
}
