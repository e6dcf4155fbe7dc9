package snowflake

import (
	"sync"
	"testing"
)

func TestNewNode_RejectsOutOfRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Error("NewNode(-1) should fail")
	}
	if _, err := NewNode(1024); err == nil {
		t.Error("NewNode(1024) should fail")
	}
	if _, err := NewNode(1023); err != nil {
		t.Errorf("NewNode(1023) failed: %v", err)
	}
}

func TestGenerate_StrictlyIncreasing(t *testing.T) {
	n, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestGenerate_UniqueAcrossGoroutines(t *testing.T) {
	n, err := NewNode(2)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, perWorker)
			for i := range ids {
				ids[i] = n.Generate()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}
