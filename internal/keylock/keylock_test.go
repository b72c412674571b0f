package keylock

import (
	"sync"
	"testing"
)

func TestPairKey_OrderIndependent(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Errorf("pair key should not depend on order")
	}
	if got := PairKey("b", "a"); got != "a:b" {
		t.Errorf("PairKey(b, a) = %q, want a:b", got)
	}
}

func TestLock_SerializesSameKey(t *testing.T) {
	var m Map
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("k")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if m.Len() != 0 {
		t.Errorf("expected released keys to be pruned, have %d", m.Len())
	}
}
