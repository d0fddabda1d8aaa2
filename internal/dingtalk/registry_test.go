package dingtalk

import "testing"

func TestRegistryLastWriterWins(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	first := &StreamClient{}
	second := &StreamClient{}

	reg.Register("default", first)
	reg.Register("default", second)

	got, ok := reg.Get("default")
	if !ok || got != second {
		t.Fatalf("Get = (%p, %v), want the replacement client", got, ok)
	}

	// The stale client's deferred cleanup must not evict its replacement.
	reg.Unregister("default", first)
	if !reg.Connected("default") {
		t.Fatal("replacement client evicted by stale unregister")
	}

	reg.Unregister("default", second)
	if reg.Connected("default") {
		t.Fatal("client still registered after matching unregister")
	}
}

func TestRegistryAccountIDs(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if ids := reg.AccountIDs(); len(ids) != 0 {
		t.Fatalf("AccountIDs on empty registry = %v", ids)
	}
	reg.Register("a", &StreamClient{})
	reg.Register("b", &StreamClient{})
	if ids := reg.AccountIDs(); len(ids) != 2 {
		t.Fatalf("AccountIDs = %v, want 2 entries", ids)
	}
}
