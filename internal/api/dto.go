package api

import (
	"fmt"

	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

// GenParams carries one request's sampling parameters over the wire.
// Temperature and TopP are pointers so the server defaults apply when a
// field is omitted.
type GenParams struct {
	ID          string   `json:"id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// SampleRequest is the body of POST /v1/sample: one probability
// distribution per request, row-aligned with the requests array.
type SampleRequest struct {
	Probs     [][]float32 `json:"probs"`
	Requests  []GenParams `json:"requests"`
	Seed      *int64      `json:"seed,omitempty"`
	WantProbs bool        `json:"want_probs,omitempty"`
	WantDists bool        `json:"want_dists,omitempty"`
}

// SampleResponse returns one token id per request, plus the optional
// achieved probabilities and realized distributions.
type SampleResponse struct {
	ID     string      `json:"id"`
	Tokens []int32     `json:"tokens"`
	Probs  []float32   `json:"probs,omitempty"`
	Dists  [][]float32 `json:"dists,omitempty"`
}

// DraftSequenceDTO is one sequence's draft continuation in a verify call.
// Start and End delimit its row span in the probs batch.
type DraftSequenceDTO struct {
	ID          string      `json:"id,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	Start       int         `json:"start"`
	End         int         `json:"end"`
	Tokens      []int32     `json:"tokens"`
	TokenProbs  []float32   `json:"token_probs"`
	Dists       [][]float32 `json:"dists"`
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Probs     [][]float32        `json:"probs"`
	Sequences []DraftSequenceDTO `json:"sequences"`
	Seed      *int64             `json:"seed,omitempty"`
}

// VerifyResponse returns the committed tokens per sequence, in order.
type VerifyResponse struct {
	ID       string    `json:"id"`
	Accepted [][]int32 `json:"accepted"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// toHostMatrix validates a JSON probability batch and flattens it into a
// host-resident matrix.
func toHostMatrix(probs [][]float32) (*tensor.HostMatrix, error) {
	if len(probs) == 0 {
		return nil, newInvalidRequest("probs: empty batch")
	}
	vocab := len(probs[0])
	if vocab == 0 {
		return nil, newInvalidRequest("probs: empty distribution row")
	}
	data := make([]float32, 0, len(probs)*vocab)
	for i, row := range probs {
		if len(row) != vocab {
			return nil, newInvalidRequest(fmt.Sprintf("probs: row %d has %d entries, expected %d", i, len(row), vocab))
		}
		data = append(data, row...)
	}
	return tensor.NewHostMatrix(len(probs), vocab, data), nil
}
