// Package sampler implements token selection for batched inference: top-p
// (nucleus) sampling across a batch of per-request probability
// distributions, and rejection-sampling verification of speculative draft
// tokens against the target model's distributions.
package sampler

import (
	"fmt"

	"github.com/Notborntodie/mlc-llm/internal/logger"
	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
	"github.com/Notborntodie/mlc-llm/internal/trace"
)

// Kind selects a sampler backend. Only the CPU backend exists today; an
// accelerator-resident backend would be a new Kind handled in New.
type Kind string

const KindCPU Kind = "cpu"

// Request carries one request's resolved sampling parameters. The ID is
// used for tracing only.
type Request struct {
	ID          string
	Temperature float64
	TopP        float64
}

// topP resolves the effective nucleus threshold: near-zero temperature
// collapses sampling to argmax.
func (r Request) topP() float64 {
	if r.Temperature < eps {
		return 0
	}
	return r.TopP
}

// Options selects the optional per-request outputs of SampleBatch.
type Options struct {
	// WantProbs requests the achieved probability of each sampled token.
	WantProbs bool
	// WantDists requests the realized distribution for each request.
	WantDists bool
}

// Result holds the outputs of one batch sampling call. Probs and Dists are
// nil unless requested via Options.
type Result struct {
	Tokens []int32
	Probs  []float32
	Dists  [][]float32
}

// Sampler selects next tokens for a batch and verifies speculative drafts.
// Implementations reuse an internal host buffer across calls and are not
// safe for concurrent calls; the serving engine issues one batch at a time.
type Sampler interface {
	// SampleBatch samples one token per row of probs. It requires
	// len(requests) == len(rngs) == probs.Rows(); a mismatch is a caller
	// bug and panics.
	SampleBatch(probs tensor.DeviceMatrix, requests []Request, rngs []rng.Generator, opts Options) (*Result, error)

	// VerifyDraftTokens verifies each sequence's draft tokens against its
	// row span of probs and returns the tokens committed for this call,
	// in order. It requires len(seqs) == len(rngs).
	VerifyDraftTokens(probs tensor.DeviceMatrix, seqs []DraftSequence, rngs []rng.Generator) ([][]int32, error)
}

// New constructs the sampler backend named by kind. Unknown kinds are a
// configuration error.
func New(kind Kind, rec trace.Recorder, log logger.Logger) (Sampler, error) {
	switch kind {
	case KindCPU:
		if log == nil {
			log = logger.Default()
		}
		return &cpuSampler{rec: rec, log: log}, nil
	default:
		return nil, fmt.Errorf("sampler: unsupported sampler kind %q", kind)
	}
}

// cpuSampler samples on the host after one device-to-host transfer per
// batch.
type cpuSampler struct {
	rec   trace.Recorder
	log   logger.Logger
	cache probsCache
}

func (s *cpuSampler) SampleBatch(probs tensor.DeviceMatrix, requests []Request, rngs []rng.Generator, opts Options) (*Result, error) {
	n := probs.Rows()
	if len(requests) != n || len(rngs) != n {
		panic(fmt.Sprintf("sampler: batch of %d rows with %d requests and %d generators", n, len(requests), len(rngs)))
	}
	if n == 0 {
		return &Result{Tokens: []int32{}}, nil
	}

	ids := requestIDs(requests)
	trace.EventAll(s.rec, ids, "start sampling")

	trace.EventAll(s.rec, ids, "start copy probs to CPU")
	host, err := s.cache.ensure(probs)
	if err != nil {
		return nil, err
	}
	trace.EventAll(s.rec, ids, "finish copy probs to CPU")

	res := &Result{Tokens: make([]int32, n)}
	if opts.WantProbs {
		res.Probs = make([]float32, n)
	}
	if opts.WantDists {
		res.Dists = make([][]float32, n)
		for i := range res.Dists {
			res.Dists[i] = make([]float32, host.C)
		}
	}

	samplePool.forEach(n, func(i int, sc *scratch) {
		trace.Event(s.rec, requests[i].ID, "start sample token")
		var dist []float32
		if opts.WantDists {
			dist = res.Dists[i]
		}
		prob, token := sampleTopP(host.Row(i), requests[i].topP(), rngs[i].Float64(), sc, dist)
		res.Tokens[i] = token
		if opts.WantProbs {
			res.Probs[i] = prob
		}
		trace.Event(s.rec, requests[i].ID, "finish sample token")
	})

	trace.EventAll(s.rec, ids, "finish sampling")
	s.log.Debug("sampled batch", "rows", n, "vocab", host.C)
	return res, nil
}

func requestIDs(requests []Request) []string {
	ids := make([]string, len(requests))
	for i, r := range requests {
		ids[i] = r.ID
	}
	return ids
}
