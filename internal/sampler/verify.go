package sampler

import (
	"fmt"

	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
	"github.com/Notborntodie/mlc-llm/internal/trace"
)

// TokenCommitter receives tokens as they are accepted during verification,
// so callers can keep per-request model state in sync without replaying the
// returned lists. Optional.
type TokenCommitter interface {
	CommitToken(id int32)
}

// DraftSequence describes one request's draft continuation awaiting
// verification. The sequence owns rows [Start, End) of the distribution
// batch, one row per draft position; spans of different sequences must not
// overlap, which makes the in-place residual renormalization safe without
// locks.
type DraftSequence struct {
	Req Request

	// Start and End delimit the row span in the distribution batch.
	Start, End int

	// Tokens holds the draft token ids, one per position.
	Tokens []int32
	// TokenProbs holds the draft model's probability q of each token.
	TokenProbs []float32
	// Dists holds the draft model's full distribution per position,
	// required to build the residual distribution on rejection.
	Dists [][]float32

	// Committer, when non-nil, receives every committed token.
	Committer TokenCommitter
}

func (d DraftSequence) length() int { return d.End - d.Start }

// VerifyDraftTokens runs the speculative-decoding rejection protocol. For
// every position of every sequence, the draft token is accepted outright
// when the target probability p meets the draft probability q, accepted
// with probability p/(q+eps) otherwise, and on rejection a replacement is
// sampled from the renormalized residual max(p-q, 0) and the rest of the
// draft is discarded. The acceptance test and the residual keep the
// committed sequence distributed exactly as direct sampling from the
// target model.
//
// The returned per-sequence lists report the committed tokens: on
// rejection that is the resampled replacement, not the rejected draft id.
func (s *cpuSampler) VerifyDraftTokens(probs tensor.DeviceMatrix, seqs []DraftSequence, rngs []rng.Generator) ([][]int32, error) {
	if len(seqs) != len(rngs) {
		panic(fmt.Sprintf("sampler: %d sequences with %d generators", len(seqs), len(rngs)))
	}
	if len(seqs) == 0 {
		return [][]int32{}, nil
	}

	ids := make([]string, len(seqs))
	for i, seq := range seqs {
		ids[i] = seq.Req.ID
	}
	trace.EventAll(s.rec, ids, "start draft verification")

	trace.EventAll(s.rec, ids, "start copy probs to CPU")
	host, err := s.cache.ensure(probs)
	if err != nil {
		return nil, err
	}
	trace.EventAll(s.rec, ids, "finish copy probs to CPU")

	for i, seq := range seqs {
		if seq.Start < 0 || seq.End < seq.Start || seq.End > host.R {
			panic(fmt.Sprintf("sampler: sequence %d span [%d, %d) outside %d-row batch", i, seq.Start, seq.End, host.R))
		}
		n := seq.length()
		if len(seq.Tokens) != n || len(seq.TokenProbs) != n || len(seq.Dists) != n {
			panic(fmt.Sprintf("sampler: sequence %d has %d rows but %d/%d/%d draft tokens/probs/dists",
				i, n, len(seq.Tokens), len(seq.TokenProbs), len(seq.Dists)))
		}
	}

	accepted := make([][]int32, len(seqs))

	// Sequences are independent (disjoint row spans); positions within a
	// sequence are strictly ordered because a rejection rewrites the row
	// in place and ends the sequence.
	samplePool.forEach(len(seqs), func(i int, sc *scratch) {
		seq := seqs[i]
		for k := 0; k < seq.length(); k++ {
			row := host.Row(seq.Start + k)
			token := seq.Tokens[k]
			q := seq.TokenProbs[k]
			p := row[token]

			if p >= q {
				accepted[i] = commit(accepted[i], seq.Committer, token)
				continue
			}
			if rngs[i].Float64() < float64(p)/float64(q+eps) {
				accepted[i] = commit(accepted[i], seq.Committer, token)
				continue
			}

			// Rejected: renormalize the residual distribution in place
			// and resample under the request's top_p.
			qdist := seq.Dists[k]
			if len(qdist) != len(row) {
				panic(fmt.Sprintf("sampler: sequence %d draft distribution has %d entries, vocab is %d", i, len(qdist), len(row)))
			}
			sum := 0.0
			for j := range row {
				r := row[j] - qdist[j]
				if r < 0 {
					r = 0
				}
				row[j] = r
				sum += float64(r)
			}
			if sum <= 0 {
				panic(fmt.Sprintf("sampler: sequence %d residual distribution has no mass at position %d", i, k))
			}
			inv := float32(1 / sum)
			for j := range row {
				row[j] *= inv
			}

			_, replacement := sampleTopP(row, seq.Req.topP(), rngs[i].Float64(), sc, nil)
			accepted[i] = commit(accepted[i], seq.Committer, replacement)
			break
		}
	})

	trace.EventAll(s.rec, ids, "finish draft verification")
	s.log.Debug("verified draft tokens", "sequences", len(seqs))
	return accepted, nil
}

func commit(list []int32, committer TokenCommitter, token int32) []int32 {
	if committer != nil {
		committer.CommitToken(token)
	}
	return append(list, token)
}
