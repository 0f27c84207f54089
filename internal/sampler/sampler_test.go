package sampler

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

func newCPU(t *testing.T) Sampler {
	t.Helper()
	s, err := New(KindCPU, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewUnsupportedKind(t *testing.T) {
	_, err := New(Kind("tpu"), nil, nil)
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
	if want := `unsupported sampler kind "tpu"`; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q must name the kind", err)
	}
}

func randomBatch(t *testing.T, rows, vocab int, seed int64) tensor.DeviceMatrix {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	data := make([]float32, rows*vocab)
	for i := 0; i < rows; i++ {
		row := data[i*vocab : (i+1)*vocab]
		sum := float32(0)
		for j := range row {
			row[j] = r.Float32()
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
	return tensor.NewHostMatrix(rows, vocab, data)
}

func batchRequests(n int, temperature, topP float64) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{
			ID:          fmt.Sprintf("req-%d", i),
			Temperature: temperature,
			TopP:        topP,
		}
	}
	return reqs
}

func TestSampleBatchDeterminism(t *testing.T) {
	const rows, vocab = 37, 512
	s := newCPU(t)

	var first []int32
	for trial := 0; trial < 3; trial++ {
		res, err := s.SampleBatch(
			randomBatch(t, rows, vocab, 11),
			batchRequests(rows, 0.8, 0.9),
			rng.Split(42, rows),
			Options{},
		)
		if err != nil {
			t.Fatalf("SampleBatch: %v", err)
		}
		if trial == 0 {
			first = res.Tokens
			continue
		}
		for i := range first {
			if res.Tokens[i] != first[i] {
				t.Fatalf("trial %d row %d: %d != %d", trial, i, res.Tokens[i], first[i])
			}
		}
	}
}

func TestSampleBatchGreedyTemperature(t *testing.T) {
	// Temperature below eps forces argmax regardless of top_p.
	data := []float32{
		0.1, 0.7, 0.2,
		0.6, 0.3, 0.1,
	}
	s := newCPU(t)
	res, err := s.SampleBatch(
		tensor.NewHostMatrix(2, 3, data),
		batchRequests(2, 0, 0.95),
		rng.Split(1, 2),
		Options{WantProbs: true},
	)
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if res.Tokens[0] != 1 || res.Tokens[1] != 0 {
		t.Fatalf("expected argmax tokens [1 0], got %v", res.Tokens)
	}
	for i, p := range res.Probs {
		if p != 1.0 {
			t.Fatalf("row %d: argmax achieved probability must be 1.0, got %v", i, p)
		}
	}
}

func TestSampleBatchOptionalOutputs(t *testing.T) {
	s := newCPU(t)
	batch := randomBatch(t, 4, 16, 5)

	res, err := s.SampleBatch(batch, batchRequests(4, 1, 0.9), rng.Split(9, 4), Options{})
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if res.Probs != nil || res.Dists != nil {
		t.Fatal("optional outputs must be nil when not requested")
	}

	res, err = s.SampleBatch(batch, batchRequests(4, 1, 0.9), rng.Split(9, 4), Options{WantProbs: true, WantDists: true})
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if len(res.Probs) != 4 || len(res.Dists) != 4 {
		t.Fatalf("expected 4 probs and dists, got %d/%d", len(res.Probs), len(res.Dists))
	}
	for i, d := range res.Dists {
		if len(d) != 16 {
			t.Fatalf("row %d realized distribution has %d entries", i, len(d))
		}
	}
}

func TestSampleBatchEmpty(t *testing.T) {
	// An empty batch is a no-op, not a shape error.
	s := newCPU(t)
	res, err := s.SampleBatch(tensor.NewHostMatrix(0, 3, nil), nil, nil, Options{})
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if len(res.Tokens) != 0 {
		t.Fatalf("expected no tokens, got %v", res.Tokens)
	}
}

func TestSampleBatchLengthMismatchPanics(t *testing.T) {
	s := newCPU(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched request count")
		}
	}()
	_, _ = s.SampleBatch(randomBatch(t, 3, 8, 2), batchRequests(2, 1, 0.9), rng.Split(0, 3), Options{})
}

func TestSampleBatchLargeBatchParallel(t *testing.T) {
	// Exercise the chunked parallel path with a batch wider than the pool
	// and confirm every slot is written.
	const rows, vocab = 257, 64
	s := newCPU(t)
	res, err := s.SampleBatch(
		randomBatch(t, rows, vocab, 23),
		batchRequests(rows, 1, 0.85),
		rng.Split(100, rows),
		Options{WantProbs: true},
	)
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	for i := range res.Tokens {
		if res.Tokens[i] < 0 || res.Tokens[i] >= vocab {
			t.Fatalf("row %d: token %d out of range", i, res.Tokens[i])
		}
		if res.Probs[i] <= 0 {
			t.Fatalf("row %d: achieved probability %v not positive", i, res.Probs[i])
		}
	}
}
