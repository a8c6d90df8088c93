package datapool

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	pool := &Pool[string]{name: "animals"}

	if err := registry.register("animals", pool); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	got, ok := registry.Lookup("animals")
	if !ok {
		t.Fatalf("lookup missed registered pool")
	}
	if got != pool {
		t.Fatalf("lookup returned a different pool")
	}
	if _, ok := registry.Lookup("plants"); ok {
		t.Fatalf("lookup found an unregistered name")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	registry := NewRegistry()
	if err := registry.register("animals", &Pool[string]{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	err := registry.register("animals", &Pool[string]{})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestRegistryReleaseChecksHolder(t *testing.T) {
	registry := NewRegistry()
	pool := &Pool[string]{name: "animals"}
	other := &Pool[string]{name: "animals"}

	if err := registry.register("animals", pool); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	registry.release("animals", other)
	if _, ok := registry.Lookup("animals"); !ok {
		t.Fatalf("release by a non-holder freed the name")
	}

	registry.release("animals", pool)
	if _, ok := registry.Lookup("animals"); ok {
		t.Fatalf("release by the holder did not free the name")
	}
}

func TestDefaultRegistryIsProcessWide(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Fatalf("default registry is not a singleton")
	}
}

func TestRegisterIsAtomicUnderContention(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.register("animals", &Pool[string]{}); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one successful registration, got %d", winners)
	}
}
