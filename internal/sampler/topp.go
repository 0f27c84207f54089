package sampler

import "sort"

// eps below which a request's temperature is treated as zero, forcing
// deterministic argmax sampling. Also guards the division by the draft
// probability during verification.
const eps = 1e-5

// unrestricted is the top_p value at or above which sampling degenerates to
// plain inverse-CDF over the full distribution.
const unrestricted = 1.0 - 1e-5

type probIndex struct {
	prob  float32
	index int32
}

// scratch is the candidate buffer reused by one pool worker across sampling
// calls. It is never shared between workers and never escapes the package.
type scratch struct {
	data []probIndex
}

func (sc *scratch) reserve(n int) {
	if cap(sc.data) < n {
		sc.data = make([]probIndex, 0, n)
	}
}

// sampleTopP draws one token from a single probability row.
//
// row is one distribution of vocab length, topP the resolved nucleus
// threshold (0 means argmax), uniform a draw in [0, 1). dist, when non-nil,
// receives the realized distribution: one-hot for argmax, otherwise a copy
// of the row. The returned probability is the mass of the chosen token under
// the policy actually applied.
//
// Malformed input (NaN, rows that do not sum to ~1, no positive mass) is a
// caller bug and panics.
func sampleTopP(row []float32, topP, uniform float64, sc *scratch, dist []float32) (float32, int32) {
	if topP == 0 {
		// Equivalent to argmax. First maximum wins on ties.
		argmaxPos := int32(-1)
		maxProb := float32(0)
		for i, p := range row {
			if p > maxProb {
				maxProb = p
				argmaxPos = int32(i)
			}
		}
		if argmaxPos < 0 {
			panic("sampler: distribution has no positive mass")
		}
		if dist != nil {
			for i := range dist {
				if int32(i) == argmaxPos {
					dist[i] = 1
				} else {
					dist[i] = 0
				}
			}
		}
		return 1, argmaxPos
	}

	if dist != nil {
		copy(dist, row)
	}

	if topP >= unrestricted {
		// Inverse-CDF over the full distribution. The probSum > 0 guard
		// keeps a uniform draw of exactly 0 from landing on a zero-mass
		// prefix.
		probSum := 0.0
		for i, p := range row {
			probSum += float64(p)
			if probSum >= uniform && probSum > 0 {
				return p, int32(i)
			}
		}
		panic("sampler: probability distribution contains NaN or does not sum to 1")
	}

	// Top-p sampling rarely needs more than a handful of high-probability
	// elements, so filter with a cutoff before sorting. The pigeonhole bound
	// for cutoff top_p/1024 is 1024 candidates; in practice tens.
	sc.reserve(256)
	if prob, token, ok := sampleTopPFiltered(row, topP, uniform, sc, float32(topP/1024)); ok {
		return prob, token
	}
	// Fallback via the full distribution, rare case.
	sc.reserve(len(row))
	prob, token, ok := sampleTopPFiltered(row, topP, uniform, sc, 0)
	if !ok {
		panic("sampler: probability distribution contains NaN or does not sum to 1")
	}
	return prob, token
}

// sampleTopPFiltered runs one filter-then-sample attempt with the given
// cutoff. It reports ok=false when the cutoff excluded too much mass and the
// caller must retry with cutoff 0.
func sampleTopPFiltered(row []float32, topP, uniform float64, sc *scratch, cutoff float32) (float32, int32, bool) {
	data := sc.data[:0]

	cutoffSum := float32(0)
	for i, p := range row {
		if p >= cutoff {
			cutoffSum += p
			data = append(data, probIndex{prob: p, index: int32(i)})
			if cutoffSum > 1-cutoff {
				// The unscanned tail cannot hold an element above the
				// cutoff any more.
				break
			}
		}
	}
	sc.data = data
	if len(data) == 0 {
		return 0, -1, false
	}

	sort.Slice(data, func(i, j int) bool {
		return data[i].prob > data[j].prob
	})

	// If uniform < p[0]/top_p then uniform < p[0]/top_p_sum as well, since
	// top_p_sum never exceeds top_p by more than the crossing element; the
	// top candidate wins without computing any partial sums.
	if uniform < float64(data[0].prob)/topP {
		return data[0].prob, data[0].index, true
	}

	// Accumulate the achieved top-p mass: the cumulative sum through the
	// element that crosses the top_p threshold. Candidate probs are
	// rewritten to cumulative sums in place.
	cumSumProb := float32(0)
	topPSum := float32(0)
	for i := range data {
		p := data[i].prob
		if float64(cumSumProb) < topP {
			topPSum += p
		} else {
			break
		}
		cumSumProb += p
		data[i].prob = cumSumProb
	}
	if float64(cumSumProb) < topP && cutoff != 0 {
		// The cutoff excluded too much mass to cover top_p; retry without
		// filtering.
		return 0, -1, false
	}

	lastCumSumProb := float32(0)
	for i := range data {
		if uniform < float64(data[i].prob)/float64(topPSum) {
			return data[i].prob - lastCumSumProb, data[i].index, true
		}
		lastCumSumProb = data[i].prob
	}
	// Floating-point rounding kept every ratio below uniform; take the last
	// candidate.
	last := data[len(data)-1]
	return last.prob - lastCumSumProb, last.index, true
}
