package services

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestLockArenaSerializesPerKey(t *testing.T) {
	arena := newLockArena()
	assetId := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arena.lock(assetId)
			counter++
			arena.unlock(assetId)
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 increments, got %v", counter)
	}
	if len(arena.locks) != 0 {
		t.Fatalf("arena should be empty after all holders release, has %v entries", len(arena.locks))
	}
}

func TestCategorizeTag(t *testing.T) {
	cases := map[string]string{
		"medical-imaging": "domain",
		"photogrammetry":  "technical",
		"education":       "use_case",
		"misc":            "general",
	}

	for name, want := range cases {
		if got := categorizeTag(name); got != want {
			t.Fatalf("categorizeTag(%v) = %v, want %v", name, got, want)
		}
	}
}
