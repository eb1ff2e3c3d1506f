package presence

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

var (
	addrA = netip.MustParseAddrPort("192.168.1.10:5000")
	addrB = netip.MustParseAddrPort("192.168.1.11:5000")
)

func TestStaleHeartbeatIgnored(t *testing.T) {
	r := NewRegistry(0)

	if !r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 100}, addrA) {
		t.Fatal("first heartbeat should register")
	}
	r.DecayTick()

	if r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 50}, addrB) {
		t.Error("older heartbeat should be ignored")
	}
	if r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 100}, addrB) {
		t.Error("equal heartbeat should be ignored")
	}

	entry, ok := r.Get("A")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.LastHeartbeat != 100 {
		t.Errorf("expected timestamp 100, got %d", entry.LastHeartbeat)
	}
	if entry.Addr != addrA {
		t.Errorf("address should not change on stale heartbeat, got %s", entry.Addr)
	}
	if entry.Liveness != DefaultLiveness-1 {
		t.Errorf("expected liveness %d, got %d", DefaultLiveness-1, entry.Liveness)
	}
}

func TestStaleHeartbeatKeepsFullLiveness(t *testing.T) {
	r := NewRegistry(0)
	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 100}, addrA)
	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 50}, addrA)

	entry, _ := r.Get("A")
	if entry.LastHeartbeat != 100 || entry.Liveness != DefaultLiveness {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestDecayEvicts(t *testing.T) {
	r := NewRegistry(0)
	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 100}, addrA)

	var evictedByHook []string
	r.OnEvict = func(name string) { evictedByHook = append(evictedByHook, name) }

	for i := 1; i < DefaultLiveness; i++ {
		if evicted := r.DecayTick(); len(evicted) != 0 {
			t.Fatalf("evicted early at decay %d", i)
		}
	}
	evicted := r.DecayTick()
	if len(evicted) != 1 || evicted[0] != "A" {
		t.Fatalf("expected A evicted on decay %d, got %v", DefaultLiveness, evicted)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
	if len(evictedByHook) != 1 {
		t.Errorf("expected eviction hook once, got %v", evictedByHook)
	}
}

func TestHeartbeatResetsLiveness(t *testing.T) {
	r := NewRegistry(0)
	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 100}, addrA)

	for i := 0; i < DefaultLiveness-1; i++ {
		r.DecayTick()
	}
	if !r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 101}, addrB) {
		t.Fatal("newer heartbeat should refresh")
	}

	if evicted := r.DecayTick(); len(evicted) != 0 {
		t.Fatalf("refreshed entry was evicted")
	}
	entry, ok := r.Get("A")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Liveness != DefaultLiveness-1 {
		t.Errorf("expected liveness %d, got %d", DefaultLiveness-1, entry.Liveness)
	}
	if entry.Addr != addrB {
		t.Errorf("expected address %s, got %s", addrB, entry.Addr)
	}
}

func TestCustomLiveness(t *testing.T) {
	r := NewRegistry(2)
	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 1}, addrA)
	r.DecayTick()
	if evicted := r.DecayTick(); len(evicted) != 1 {
		t.Errorf("expected eviction after 2 decays, got %v", evicted)
	}
}

func TestSnapshotAndRemove(t *testing.T) {
	r := NewRegistry(0)
	r.OnHeartbeat(protocol.Heartbeat{Name: "b", Timestamp: 1}, addrB)
	r.OnHeartbeat(protocol.Heartbeat{Name: "a", Timestamp: 1}, addrA)
	if r.OnHeartbeat(protocol.Heartbeat{Name: "", Timestamp: 1}, addrA) {
		t.Error("nameless heartbeat should be ignored")
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "a" || snap[1].Name != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Snapshot is a copy
	snap[0].Liveness = 0
	if entry, _ := r.Get("a"); entry.Liveness != DefaultLiveness {
		t.Error("snapshot should not alias registry state")
	}

	if !r.Remove("a") || r.Remove("a") {
		t.Error("Remove should succeed once")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}
}

func TestConcurrentHeartbeatAndDecay(t *testing.T) {
	r := NewRegistry(0)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 1000; i++ {
			r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: i}, addrA)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.DecayTick()
			r.Snapshot()
		}
	}()
	wg.Wait()

	r.OnHeartbeat(protocol.Heartbeat{Name: "A", Timestamp: 2000}, addrA)
	if entry, ok := r.Get("A"); !ok || entry.LastHeartbeat != 2000 {
		t.Errorf("unexpected final entry %+v", entry)
	}
}
