package session

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cospace/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.Envelope
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(env models.Envelope) {
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestClientSendWithHook(t *testing.T) {
	client := NewClient(nil, "alice")
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)

	if err := client.Send(models.Envelope{Type: models.TypeConnected}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got := capture.list()
	if len(got) != 1 || got[0].Type != models.TypeConnected {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendQueueOverflow(t *testing.T) {
	client := NewClient(nil, "bob")
	// No WritePump draining, so the queue fills up.
	for i := 0; i < sendQueueSize; i++ {
		if err := client.Send(models.Envelope{Type: models.TypeDocumentUpdate}); err != nil {
			t.Fatalf("send %d failed early: %v", i, err)
		}
	}
	if err := client.Send(models.Envelope{Type: models.TypeDocumentUpdate}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	client := NewClient(nil, "carol")
	client.Close()
	client.Close() // idempotent

	if err := client.Send(models.Envelope{Type: models.TypeDocumentUpdate}); err != ErrClientClosed {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestRoomJoinLeaveAndPeers(t *testing.T) {
	room := NewRoom(uuid.New(), zap.NewNop())
	if count := room.ClientCount(); count != 0 {
		t.Fatalf("expected empty room, got %d", count)
	}

	c1 := NewClient(nil, "alice")
	c2 := NewClient(nil, "bob")
	if !room.Join(c1) {
		t.Fatalf("first join rejected")
	}
	if !room.Join(c2) {
		t.Fatalf("second join rejected")
	}
	if room.Join(c1) {
		t.Fatalf("duplicate join should be rejected")
	}
	if count := room.ClientCount(); count != 2 {
		t.Fatalf("expected 2 clients, got %d", count)
	}

	peers := room.Peers(c1.ID)
	if len(peers) != 1 || peers[0].Username != "bob" {
		t.Fatalf("unexpected peers: %#v", peers)
	}

	if left := room.Leave(c1.ID); left != 1 {
		t.Fatalf("expected 1 client after leave, got %d", left)
	}
	if left := room.Leave(c1.ID); left != 1 {
		t.Fatalf("second leave should be a no-op, got %d", left)
	}
	if left := room.Leave(c2.ID); left != 0 {
		t.Fatalf("expected empty room, got %d", left)
	}
}

func TestRoomBroadcastSkipsSender(t *testing.T) {
	room := NewRoom(uuid.New(), zap.NewNop())

	sender := NewClient(nil, "sender")
	senderCapture := newFrameCapture()
	sender.SetSendHook(senderCapture.hook)

	peer := NewClient(nil, "peer")
	peerCapture := newFrameCapture()
	peer.SetSendHook(peerCapture.hook)

	room.Join(sender)
	room.Join(peer)

	dropped := room.Broadcast(sender.ID, models.Envelope{Type: models.TypeDocumentUpdate, Content: "x"})
	if len(dropped) != 0 {
		t.Fatalf("no peer should be dropped, got %d", len(dropped))
	}
	if got := senderCapture.list(); len(got) != 0 {
		t.Fatalf("sender must not receive its own broadcast, got %#v", got)
	}
	got := peerCapture.list()
	if len(got) != 1 || got[0].Content != "x" {
		t.Fatalf("expected peer to receive update, got %#v", got)
	}
}

func TestRoomBroadcastDropsOverflowedPeer(t *testing.T) {
	room := NewRoom(uuid.New(), zap.NewNop())

	sender := NewClient(nil, "sender")
	sender.SetSendHook(func(models.Envelope) {})

	slow := NewClient(nil, "slow") // queue never drained
	healthy := NewClient(nil, "healthy")
	healthyCapture := newFrameCapture()
	healthy.SetSendHook(healthyCapture.hook)

	room.Join(sender)
	room.Join(slow)
	room.Join(healthy)

	var dropped []*Client
	for i := 0; i <= sendQueueSize; i++ {
		dropped = room.Broadcast(sender.ID, models.Envelope{Type: models.TypeDocumentUpdate})
		if len(dropped) > 0 {
			break
		}
	}
	if len(dropped) != 1 || dropped[0].Username != "slow" {
		t.Fatalf("expected slow peer dropped, got %#v", dropped)
	}
	if count := room.ClientCount(); count != 2 {
		t.Fatalf("expected dropped peer removed from room, got %d clients", count)
	}
	// Delivery to the healthy peer continued throughout.
	if got := healthyCapture.list(); len(got) != sendQueueSize+1 {
		t.Fatalf("expected %d frames at healthy peer, got %d", sendQueueSize+1, len(got))
	}
}

func TestRegistryGetOrCreateReusesSlot(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	roomID := uuid.New()

	r1 := reg.GetOrCreate(roomID)
	r2 := reg.GetOrCreate(roomID)
	if r1 != r2 {
		t.Fatalf("expected same room slot")
	}

	// Emptying the room keeps the slot around.
	c := NewClient(nil, "alice")
	r1.Join(c)
	r1.Leave(c.ID)
	if r3 := reg.GetOrCreate(roomID); r3 != r1 {
		t.Fatalf("expected slot retained after last leave")
	}
}

func TestRegistryDeleteClosesClients(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	roomID := uuid.New()

	room := reg.GetOrCreate(roomID)
	c := NewClient(nil, "alice")
	room.Join(c)

	reg.Delete(roomID)

	if _, ok := reg.Get(roomID); ok {
		t.Fatalf("expected room slot removed")
	}
	if err := c.Send(models.Envelope{}); err != ErrClientClosed {
		t.Fatalf("expected client closed after delete, got %v", err)
	}
}
