package lock

import (
	"sync"
	"testing"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("momentum_total")
			v := counter
			v++
			counter = v
			unlock()
		}()
	}
	wg.Wait()
	if counter != 200 {
		t.Fatalf("expected 200 increments, got %d", counter)
	}
	if n := k.Len(); n != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", n)
	}
}

func TestKeyedIndependentKeys(t *testing.T) {
	k := NewKeyed()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
