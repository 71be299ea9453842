package openmemory

import (
	"sync"
	"testing"
)

func TestIDLocksSerializeSameID(t *testing.T) {
	var locks idLocks
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("same-id")
			counter++
			locks.Unlock("same-id")
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("lost updates under the id lock: %d", counter)
	}
}

func TestNamespaceRegistry(t *testing.T) {
	r := newNamespaceRegistry()
	if r.Known("ns") {
		t.Error("fresh registry should know nothing")
	}
	r.Mark("ns")
	if !r.Known("ns") {
		t.Error("marked namespace not known")
	}
	r.Forget("ns")
	if r.Known("ns") {
		t.Error("forgotten namespace still known")
	}
}
