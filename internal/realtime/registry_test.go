package realtime

import (
	"encoding/json"
	"math/rand"
	"sync"
	"testing"

	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeConnection struct {
	id     uint64
	mu     sync.Mutex
	frames [][]byte
	fail   error
	closed int
}

func newFakeConnection(id uint64) *fakeConnection {
	return &fakeConnection{id: id}
}

func (c *fakeConnection) ID() uint64 {
	return c.id
}

func (c *fakeConnection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConnection) Close(int, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConnection) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestRegistryFansOutToEveryConnectionOfIdentity(t *testing.T) {
	registry := NewRegistry(nil)
	tabOne := newFakeConnection(1)
	tabTwo := newFakeConnection(2)
	other := newFakeConnection(3)
	registry.Register(7, tabOne)
	registry.Register(7, tabTwo)
	registry.Register(8, other)

	delivered := registry.Send(7, map[string]string{"type": "chat", "contenido": "hola"})
	if delivered != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d", delivered)
	}

	expected := `{"contenido":"hola","type":"chat"}`
	for _, conn := range []*fakeConnection{tabOne, tabTwo} {
		frames := conn.received()
		if len(frames) != 1 || string(frames[0]) != expected {
			t.Fatalf("connection %d received %q", conn.id, frames)
		}
	}
	if len(other.received()) != 0 {
		t.Fatalf("expected other identity to receive nothing")
	}
}

func TestRegistrySendWithoutConnectionsIsNoOp(t *testing.T) {
	registry := NewRegistry(nil)
	if delivered := registry.Send(99, map[string]string{"type": "chat"}); delivered != 0 {
		t.Fatalf("expected zero deliveries, got %d", delivered)
	}
	if registry.IsConnected(99) {
		t.Fatalf("expected identity to be absent")
	}
}

func TestRegistryPrunesConnectionsWhoseSendFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	registry := NewRegistry(zap.New(core))
	healthy := newFakeConnection(1)
	dead := newFakeConnection(2)
	dead.fail = ErrConnectionClosed
	registry.Register(5, healthy)
	registry.Register(5, dead)

	if delivered := registry.Send(5, Ping{Type: EventPing}); delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	if count := registry.ConnectionCount(5); count != 1 {
		t.Fatalf("expected dead connection to be pruned, %d remain", count)
	}
	if dead.closed != 1 {
		t.Fatalf("expected pruned connection to be closed once, got %d", dead.closed)
	}
	if logs.FilterMessage("pruning dead connection").Len() != 1 {
		t.Fatalf("expected prune to be logged")
	}

	healthy.fail = ErrSendQueueFull
	if delivered := registry.Send(5, Ping{Type: EventPing}); delivered != 0 {
		t.Fatalf("expected zero deliveries, got %d", delivered)
	}
	if registry.IsConnected(5) {
		t.Fatalf("expected identity entry to be removed after last connection pruned")
	}
}

func TestRegistryUnregisterIsIdempotentAndExact(t *testing.T) {
	registry := NewRegistry(nil)
	first := newFakeConnection(1)
	registry.Register(3, first)

	impostor := newFakeConnection(1)
	registry.Unregister(3, impostor)
	if registry.ConnectionCount(3) != 1 {
		t.Fatalf("expected unregister of a different connection with the same id to be ignored")
	}

	registry.Unregister(3, first)
	registry.Unregister(3, first)
	registry.Unregister(4, first)
	if registry.IsConnected(3) || len(registry.Identities()) != 0 {
		t.Fatalf("expected empty registry, got %v", registry.Identities())
	}
}

func TestRegistryMatchesUnmatchedRegistrations(t *testing.T) {
	registry := NewRegistry(nil)
	random := rand.New(rand.NewSource(42))
	expected := map[auth.Identity]map[uint64]*fakeConnection{}
	var nextID uint64

	for step := 0; step < 2000; step++ {
		identity := auth.Identity(random.Intn(6) + 1)
		if random.Intn(3) > 0 || len(expected[identity]) == 0 {
			nextID++
			conn := newFakeConnection(nextID)
			registry.Register(identity, conn)
			if expected[identity] == nil {
				expected[identity] = map[uint64]*fakeConnection{}
			}
			expected[identity][conn.id] = conn
			continue
		}
		for id, conn := range expected[identity] {
			registry.Unregister(identity, conn)
			delete(expected[identity], id)
			break
		}
		if len(expected[identity]) == 0 {
			delete(expected, identity)
		}
	}

	identities := registry.Identities()
	if len(identities) != len(expected) {
		t.Fatalf("expected %d identities, got %d", len(expected), len(identities))
	}
	for identity, conns := range expected {
		if registry.ConnectionCount(identity) != len(conns) {
			t.Fatalf("identity %d: expected %d connections, got %d", identity, len(conns), registry.ConnectionCount(identity))
		}
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	registry := NewRegistry(nil)
	var wg sync.WaitGroup
	for worker := 0; worker < 16; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			identity := auth.Identity(worker%4 + 1)
			for iteration := 0; iteration < 200; iteration++ {
				conn := newFakeConnection(uint64(worker*1000 + iteration))
				registry.Register(identity, conn)
				registry.Send(identity, Ping{Type: EventPing})
				registry.Unregister(identity, conn)
			}
		}(worker)
	}
	wg.Wait()

	if identities := registry.Identities(); len(identities) != 0 {
		t.Fatalf("expected empty registry after balanced operations, got %v", identities)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewRegistry(nil)
	first := newFakeConnection(1)
	second := newFakeConnection(2)
	registry.Register(1, first)
	registry.Register(2, second)

	registry.CloseAll(1001, "shutdown")
	if first.closed != 1 || second.closed != 1 {
		t.Fatalf("expected every connection closed once")
	}
	if len(registry.Identities()) != 0 {
		t.Fatalf("expected empty registry")
	}

	var decoded Ping
	if err := json.Unmarshal(heartbeatFrame, &decoded); err != nil || decoded.Type != EventPing {
		t.Fatalf("unexpected heartbeat frame %s", heartbeatFrame)
	}
}
