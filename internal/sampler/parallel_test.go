package sampler

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestForEachCoversAllIndices(t *testing.T) {
	for _, n := range []int{0, 1, 3, 64, 1000} {
		seen := make([]int32, n)
		samplePool.forEach(n, func(i int, sc *scratch) {
			atomic.AddInt32(&seen[i], 1)
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, c)
			}
		}
	}
}

// Scratch buffers belong to the fixed pool workers: repeated calls must
// hand out scratches from that set, never a fresh allocation per call,
// including single-task calls.
func TestForEachScratchIsWorkerOwned(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[*scratch]struct{})
	for call := 0; call < 50; call++ {
		samplePool.forEach(1, func(i int, sc *scratch) {
			mu.Lock()
			seen[sc] = struct{}{}
			mu.Unlock()
		})
	}
	if len(seen) > samplePool.size {
		t.Fatalf("saw %d distinct scratches from a %d-worker pool", len(seen), samplePool.size)
	}
}

func TestForEachScratchIsReusable(t *testing.T) {
	// Each task may leave the scratch dirty; the next call on the same
	// worker must still sample correctly because sampleTopP truncates it.
	row := []float32{0.5, 0.3, 0.2}
	tokens := make([]int32, 128)
	samplePool.forEach(len(tokens), func(i int, sc *scratch) {
		_, token := sampleTopP(row, 0.7, 0.1, sc, nil)
		tokens[i] = token
	})
	for i, token := range tokens {
		if token != 0 {
			t.Fatalf("slot %d: expected token 0, got %d", i, token)
		}
	}
}
