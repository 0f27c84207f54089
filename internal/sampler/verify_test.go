package sampler

import (
	"testing"

	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

type recordingCommitter struct {
	tokens []int32
}

func (r *recordingCommitter) CommitToken(id int32) {
	r.tokens = append(r.tokens, id)
}

// When the target probability meets the draft probability at every
// position, every draft token is accepted and nothing is resampled.
func TestVerifyAllAccepted(t *testing.T) {
	target := []float32{
		0.7, 0.2, 0.1,
		0.1, 0.8, 0.1,
		0.2, 0.2, 0.6,
	}
	s := newCPU(t)
	committer := &recordingCommitter{}
	seqs := []DraftSequence{{
		Req:        Request{ID: "seq-0", Temperature: 1, TopP: 0.9},
		Start:      0,
		End:        3,
		Tokens:     []int32{0, 1, 2},
		TokenProbs: []float32{0.5, 0.6, 0.4}, // all below the target p
		Dists: [][]float32{
			{0.5, 0.3, 0.2},
			{0.2, 0.6, 0.2},
			{0.3, 0.3, 0.4},
		},
		Committer: committer,
	}}

	accepted, err := s.VerifyDraftTokens(tensor.NewHostMatrix(3, 3, target), seqs, rng.Split(1, 1))
	if err != nil {
		t.Fatalf("VerifyDraftTokens: %v", err)
	}
	want := []int32{0, 1, 2}
	if len(accepted[0]) != len(want) {
		t.Fatalf("expected all drafts accepted, got %v", accepted[0])
	}
	for i := range want {
		if accepted[0][i] != want[i] {
			t.Fatalf("position %d: got %d want %d", i, accepted[0][i], want[i])
		}
	}
	if len(committer.tokens) != 3 {
		t.Fatalf("committer must see every accepted token, saw %v", committer.tokens)
	}
}

// A draft token the target assigns zero probability must always be
// rejected: the acceptance probability p/(q+eps) vanishes. The replacement
// comes from the residual distribution, which has zero mass at the
// rejected token, and verification stops for the sequence.
func TestVerifyForcedRejection(t *testing.T) {
	target := []float32{
		0, 0.6, 0.4, // p(token 0) = 0
		0.2, 0.3, 0.5, // never verified after the rejection
	}
	s := newCPU(t)
	committer := &recordingCommitter{}
	seqs := []DraftSequence{{
		Req:        Request{ID: "seq-0", Temperature: 1, TopP: 1},
		Start:      0,
		End:        2,
		Tokens:     []int32{0, 1},
		TokenProbs: []float32{1, 0.5},
		Dists: [][]float32{
			{1, 0, 0}, // q is a point mass on the rejected token
			{0.2, 0.5, 0.3},
		},
		Committer: committer,
	}}

	for trial := int64(0); trial < 20; trial++ {
		committer.tokens = nil
		batch := tensor.NewHostMatrix(2, 3, append([]float32(nil), target...))
		accepted, err := s.VerifyDraftTokens(batch, seqs, rng.Split(trial, 1))
		if err != nil {
			t.Fatalf("VerifyDraftTokens: %v", err)
		}
		got := accepted[0]
		if len(got) != 1 {
			t.Fatalf("rejection must end the sequence after one committed token, got %v", got)
		}
		if got[0] == 0 {
			t.Fatalf("trial %d: replacement token must avoid the rejected id", trial)
		}
		// The residual is max(p-q, 0) renormalized: {0, 0.6, 0.4}.
		if got[0] != 1 && got[0] != 2 {
			t.Fatalf("trial %d: replacement %d outside residual support", trial, got[0])
		}
		// The returned list reports the committed replacement, so it always
		// matches the committer's view.
		if len(committer.tokens) != 1 || committer.tokens[0] != got[0] {
			t.Fatalf("returned %v but committed %v", got, committer.tokens)
		}
	}
}

// The residual distribution row is rewritten in place inside the sequence's
// own span, so parallel sequences stay independent.
func TestVerifyParallelSequences(t *testing.T) {
	const seqCount = 16
	const vocab = 8
	data := make([]float32, 2*seqCount*vocab)
	for i := 0; i < 2*seqCount; i++ {
		for j := 0; j < vocab; j++ {
			data[i*vocab+j] = 1.0 / vocab
		}
	}
	qdist := make([]float32, vocab)
	for j := range qdist {
		qdist[j] = 1.0 / vocab
	}

	s := newCPU(t)
	seqs := make([]DraftSequence, seqCount)
	for i := range seqs {
		seqs[i] = DraftSequence{
			Req:        Request{ID: "seq", Temperature: 1, TopP: 0.9},
			Start:      2 * i,
			End:        2*i + 2,
			Tokens:     []int32{int32(i % vocab), int32((i + 1) % vocab)},
			TokenProbs: []float32{1.0 / vocab, 1.0 / vocab}, // p == q, accepted outright
			Dists:      [][]float32{qdist, qdist},
		}
	}

	accepted, err := s.VerifyDraftTokens(tensor.NewHostMatrix(2*seqCount, vocab, data), seqs, rng.Split(4, seqCount))
	if err != nil {
		t.Fatalf("VerifyDraftTokens: %v", err)
	}
	for i, got := range accepted {
		if len(got) != 2 || got[0] != seqs[i].Tokens[0] || got[1] != seqs[i].Tokens[1] {
			t.Fatalf("sequence %d: got %v want %v", i, got, seqs[i].Tokens)
		}
	}
}

func TestVerifyNoSequences(t *testing.T) {
	s := newCPU(t)
	accepted, err := s.VerifyDraftTokens(randomBatch(t, 2, 8, 1), nil, nil)
	if err != nil {
		t.Fatalf("VerifyDraftTokens: %v", err)
	}
	if len(accepted) != 0 {
		t.Fatalf("expected no accepted lists, got %v", accepted)
	}
}

func TestVerifySpanOutOfRangePanics(t *testing.T) {
	s := newCPU(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for span outside the batch")
		}
	}()
	seqs := []DraftSequence{{
		Req:        Request{ID: "seq-0", TopP: 0.9, Temperature: 1},
		Start:      0,
		End:        4,
		Tokens:     make([]int32, 4),
		TokenProbs: make([]float32, 4),
		Dists:      make([][]float32, 4),
	}}
	_, _ = s.VerifyDraftTokens(randomBatch(t, 2, 8, 1), seqs, rng.Split(0, 1))
}
