package live

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	conn := &websocket.Conn{}

	if reg.Register("anon_1", "sess-1", conn) {
		t.Error("Expected first register not to displace anything")
	}
	if reg.Register("anon_1", "sess-1", conn) {
		t.Error("Expected re-registering the same socket not to displace it")
	}
	if reg.Len() != 1 {
		t.Errorf("Expected 1 socket, got %d", reg.Len())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	conn := &websocket.Conn{}

	reg.Register("anon_1", "sess-1", conn)
	reg.Unregister("anon_1", "sess-1", conn)

	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Len())
	}
}

func TestRegistry_UnregisterStale(t *testing.T) {
	reg := NewRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	reg.Register("anon_1", "sess-1", conn1)
	reg.Register("anon_1", "sess-2", conn2)

	// A stale unregister for a different session leaves the other socket alone.
	reg.Unregister("anon_1", "sess-2", conn1)
	reg.Unregister("anon_1", "sess-1", conn1)

	if reg.Len() != 1 {
		t.Errorf("Expected sess-2 socket to remain, got %d sockets", reg.Len())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	conns := make([]*websocket.Conn, 1000)
	for i := range conns {
		conns[i] = &websocket.Conn{}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i, conn := range conns {
			reg.Register("anon_1", "sess-"+strconv.Itoa(i), conn)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = reg.Len()
		}
	}()
	wg.Wait()

	if reg.Len() != 1000 {
		t.Errorf("Expected 1000 sockets, got %d", reg.Len())
	}
	for i := 0; i < 500; i++ {
		reg.Unregister("anon_1", "sess-"+strconv.Itoa(i), conns[i])
	}
	if reg.Len() != 500 {
		t.Errorf("Expected 500 sockets, got %d", reg.Len())
	}
}
