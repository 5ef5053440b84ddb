package service

import (
	"sync"
	"testing"
	"time"
)

func TestGate_SerializesSameKey(t *testing.T) {
	gate := NewGate()

	var inside, maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.WithLock([]string{"item-1\x00loc-a"}, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder of the key, saw %d", maxInside)
	}
}

func TestGate_OppositeOrderDoesNotDeadlock(t *testing.T) {
	gate := NewGate()
	keys1 := []string{"item-1\x00loc-a", "item-1\x00loc-b"}
	keys2 := []string{"item-1\x00loc-b", "item-1\x00loc-a"}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				gate.WithLock(keys1, func() error {
					time.Sleep(10 * time.Microsecond)
					return nil
				})
			}()
			go func() {
				defer wg.Done()
				gate.WithLock(keys2, func() error {
					time.Sleep(10 * time.Microsecond)
					return nil
				})
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: opposite-order acquisitions did not finish")
	}
}

func TestGate_ReleasesOnPanic(t *testing.T) {
	gate := NewGate()
	key := []string{"item-1\x00loc-a"}

	func() {
		defer func() { recover() }()
		gate.WithLock(key, func() error {
			panic("boom")
		})
	}()

	acquired := make(chan struct{})
	go func() {
		gate.WithLock(key, func() error { return nil })
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after panic")
	}
}

func TestGate_DuplicateKeysCollapse(t *testing.T) {
	gate := NewGate()

	err := gate.WithLock([]string{"k", "k", "k"}, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
