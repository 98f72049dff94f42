package vm

import (
	"sync"
	"testing"
	"time"
)

func TestBarrierReuse(t *testing.T) {
	const lanes, phases = 4, 50
	b := NewBarrier(lanes)
	var (
		mu      sync.Mutex
		arrived [phases]int
		wg      sync.WaitGroup
	)
	for l := 0; l < lanes; l++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 0; p < phases; p++ {
				mu.Lock()
				arrived[p]++
				mu.Unlock()
				if !b.Wait() {
					t.Error("Wait() = false on a healthy barrier")
					return
				}
				mu.Lock()
				n := arrived[p]
				mu.Unlock()
				if n != lanes {
					t.Errorf("phase %d: %d lanes arrived before release, want %d", p, n, lanes)
				}
			}
		}()
	}
	wg.Wait()
}

func TestBarrierBreak(t *testing.T) {
	b := NewBarrier(3)
	done := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- b.Wait() }()
	}
	time.Sleep(10 * time.Millisecond)
	b.Break()
	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Error("Wait() = true after Break")
			}
		case <-time.After(time.Second):
			t.Fatal("Wait() still blocked after Break")
		}
	}
	if !b.Broken() {
		t.Error("Broken() = false")
	}
	if b.Wait() {
		t.Error("Wait() on broken barrier = true")
	}
}
